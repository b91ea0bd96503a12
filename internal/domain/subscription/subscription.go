// Package subscription holds the subscription read model and the entitlement
// changes a completed charge applies to it.
package subscription

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when the user has no subscription.
var ErrNotFound = errors.New("subscription not found")

// Status of a subscription.
type Status string

const (
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusDisabled Status = "disabled"
)

// Subscription is the current entitlement set of a user.
type Subscription struct {
	ID     int64
	UserID int64
	Status Status
	// IsTrial is true for free trial subscriptions.
	IsTrial bool
	EndDate time.Time
	// TrafficLimitGB is the monthly traffic cap; 0 means unlimited.
	TrafficLimitGB   int
	DeviceLimit      int
	ConnectedServers []string
}

// Active reports whether the subscription is usable at now.
func (s *Subscription) Active(now time.Time) bool {
	return s != nil && s.Status == StatusActive && now.Before(s.EndDate)
}

// PaidActive reports whether the subscription is an active, unexpired,
// non-trial one.
func (s *Subscription) PaidActive(now time.Time) bool {
	return s.Active(now) && !s.IsTrial
}

// HasServer reports whether the server is already connected.
func (s *Subscription) HasServer(id string) bool {
	return s != nil && slices.Contains(s.ConnectedServers, id)
}

// GrantKind selects how a Grant changes a subscription.
type GrantKind string

const (
	// GrantPurchase replaces the subscription with a new paid one.
	GrantPurchase GrantKind = "purchase"
	// GrantRenewal extends the end date, keeping entitlements.
	GrantRenewal GrantKind = "renewal"
	// GrantAddOn adds traffic, devices or servers without touching the end date.
	GrantAddOn GrantKind = "addon"
)

// Grant is the entitlement change paid for by one charge.
//
// For GrantPurchase TrafficGB and Devices are absolute limits. For GrantAddOn
// they are increments.
type Grant struct {
	UserID    int64
	Kind      GrantKind
	Days      int
	TrafficGB int
	Devices   int
	ServerIDs []string
	Now       time.Time
}

// Apply returns the subscription that results from granting g on top of s.
// s may be nil for a first purchase.
func Apply(s *Subscription, g Grant) (Subscription, error) {
	var next Subscription
	if s != nil {
		next = *s
		next.ConnectedServers = slices.Clone(s.ConnectedServers)
	}
	next.UserID = g.UserID
	period := time.Duration(g.Days) * 24 * time.Hour

	switch g.Kind {
	case GrantPurchase:
		next.Status = StatusActive
		next.IsTrial = false
		next.EndDate = g.Now.Add(period)
		next.TrafficLimitGB = g.TrafficGB
		next.DeviceLimit = g.Devices
		next.ConnectedServers = slices.Clone(g.ServerIDs)
	case GrantRenewal:
		if s == nil {
			return Subscription{}, errors.Wrap(ErrNotFound, "renew")
		}
		start := s.EndDate
		if start.Before(g.Now) {
			start = g.Now
		}
		next.Status = StatusActive
		next.IsTrial = false
		next.EndDate = start.Add(period)
	case GrantAddOn:
		if s == nil {
			return Subscription{}, errors.Wrap(ErrNotFound, "add-on")
		}
		if g.TrafficGB > 0 && next.TrafficLimitGB > 0 {
			next.TrafficLimitGB += g.TrafficGB
		}
		next.DeviceLimit += g.Devices
		for _, id := range g.ServerIDs {
			if !slices.Contains(next.ConnectedServers, id) {
				next.ConnectedServers = append(next.ConnectedServers, id)
			}
		}
	default:
		return Subscription{}, errors.Errorf("unknown grant kind %q", g.Kind)
	}
	if next.ConnectedServers == nil {
		next.ConnectedServers = []string{}
	}
	return next, nil
}

// Repository defines subscription persistence.
type Repository interface {
	GetByUser(ctx context.Context, userID int64) (*Subscription, error)
	// Grant applies g atomically and returns the updated subscription.
	Grant(ctx context.Context, g Grant) (*Subscription, error)
}
