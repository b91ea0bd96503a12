package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/vpn-checkout/internal/domain/checkout"
)

var _ checkout.DraftStore = (*DraftRepository)(nil)

// DraftRepository stores one checkout draft per user as a JSONB document.
// Expired rows are invisible to Get and removed by Purge.
type DraftRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewDraftRepository returns a DraftRepository that uses the given pool.
func NewDraftRepository(pool *pgxpool.Pool) *DraftRepository {
	return &DraftRepository{pool: pool, now: time.Now}
}

// Save upserts d. The stored expiry is now + ttl.
func (r *DraftRepository) Save(ctx context.Context, d *checkout.Draft, ttl time.Duration) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "marshal draft")
	}
	_, err = conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO checkout_drafts (user_id, token, payload, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE
		SET token = EXCLUDED.token, payload = EXCLUDED.payload,
		    expires_at = EXCLUDED.expires_at, updated_at = now()`,
		d.UserID, d.Token, payload, r.now().Add(ttl))
	return errors.Wrapf(err, "save draft of user %d", d.UserID)
}

// Get returns the unexpired draft of the user.
func (r *DraftRepository) Get(ctx context.Context, userID int64) (*checkout.Draft, error) {
	var payload []byte
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT payload FROM checkout_drafts
		WHERE user_id = $1 AND expires_at > $2`,
		userID, r.now(),
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkout.ErrDraftNotFound
		}
		return nil, errors.Wrapf(err, "get draft of user %d", userID)
	}

	var d checkout.Draft
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, errors.Wrap(err, "unmarshal draft")
	}
	return &d, nil
}

// Clear removes the draft of the user. Missing drafts are not an error.
func (r *DraftRepository) Clear(ctx context.Context, userID int64) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM checkout_drafts WHERE user_id = $1`, userID)
	return errors.Wrapf(err, "clear draft of user %d", userID)
}

// Purge deletes expired drafts and returns how many were removed.
func (r *DraftRepository) Purge(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM checkout_drafts WHERE expires_at <= $1`, r.now())
	if err != nil {
		return 0, errors.Wrap(err, "purge drafts")
	}
	return tag.RowsAffected(), nil
}
