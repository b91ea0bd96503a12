// Package memory provides in-process storage for single-instance
// deployments and tests.
package memory

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xenking/vpn-checkout/internal/domain/checkout"
)

var _ checkout.DraftStore = (*DraftStore)(nil)

type draftEntry struct {
	draft     checkout.Draft
	expiresAt time.Time
}

// DraftStore keeps drafts in a bounded LRU. When the store is full the least
// recently used draft is dropped, which the checkout treats as expired.
type DraftStore struct {
	cache *expirable.LRU[int64, draftEntry]
	now   func() time.Time
}

// NewDraftStore creates a store holding at most size drafts. maxTTL bounds
// how long any entry stays in memory; Save may use a shorter ttl.
func NewDraftStore(size int, maxTTL time.Duration) *DraftStore {
	return &DraftStore{
		cache: expirable.NewLRU[int64, draftEntry](size, nil, maxTTL),
		now:   time.Now,
	}
}

func (s *DraftStore) Save(_ context.Context, d *checkout.Draft, ttl time.Duration) error {
	s.cache.Add(d.UserID, draftEntry{
		draft:     cloneDraft(d),
		expiresAt: s.now().Add(ttl),
	})
	return nil
}

func (s *DraftStore) Get(_ context.Context, userID int64) (*checkout.Draft, error) {
	e, ok := s.cache.Get(userID)
	if !ok {
		return nil, checkout.ErrDraftNotFound
	}
	if !s.now().Before(e.expiresAt) {
		s.cache.Remove(userID)
		return nil, checkout.ErrDraftNotFound
	}
	d := cloneDraft(&e.draft)
	return &d, nil
}

func (s *DraftStore) Clear(_ context.Context, userID int64) error {
	s.cache.Remove(userID)
	return nil
}

// Purge drops expired drafts and returns how many were removed.
func (s *DraftStore) Purge(_ context.Context) (int64, error) {
	now := s.now()
	var n int64
	for _, userID := range s.cache.Keys() {
		e, ok := s.cache.Peek(userID)
		if ok && !now.Before(e.expiresAt) {
			s.cache.Remove(userID)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored drafts, expired ones included.
func (s *DraftStore) Len() int {
	return s.cache.Len()
}

func cloneDraft(d *checkout.Draft) checkout.Draft {
	c := *d
	c.Selections.ServerIDs = slices.Clone(d.Selections.ServerIDs)
	c.Quote.Components = slices.Clone(d.Quote.Components)
	return c
}
