package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/vpn-checkout/internal/domain/topup"
)

var _ topup.Repository = (*TopUpRepository)(nil)

// TopUpRepository records confirmed provider payments.
type TopUpRepository struct {
	pool *pgxpool.Pool
}

// NewTopUpRepository returns a TopUpRepository that uses the given pool.
func NewTopUpRepository(pool *pgxpool.Pool) *TopUpRepository {
	return &TopUpRepository{pool: pool}
}

// Record inserts p unless the same provider payment is already stored.
func (r *TopUpRepository) Record(ctx context.Context, p topup.Payment) (bool, error) {
	var id int64
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO topups (provider, external_id, user_id, amount, provider_amount, currency, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
		ON CONFLICT (provider, external_id) DO NOTHING
		RETURNING id`,
		p.Provider, p.ExternalID, p.UserID, int64(p.Amount), p.ProviderAmount, p.Currency, nullTime(p.ConfirmedAt),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, errors.Wrapf(err, "record payment %s", p.Reference())
	}
	return true, nil
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
