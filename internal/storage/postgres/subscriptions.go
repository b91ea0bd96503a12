package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/vpn-checkout/internal/domain/subscription"
)

var _ subscription.Repository = (*SubscriptionRepository)(nil)

const subscriptionColumns = `id, user_id, status, is_trial, end_date, traffic_limit_gb, device_limit, connected_servers`

// SubscriptionRepository implements subscription.Repository backed by
// PostgreSQL. One user has at most one subscription row.
type SubscriptionRepository struct {
	pool *pgxpool.Pool
	tx   *TxManager
}

// NewSubscriptionRepository returns a SubscriptionRepository that uses the
// given pool.
func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool, tx: NewTxManager(pool)}
}

// GetByUser returns the subscription of the user.
func (r *SubscriptionRepository) GetByUser(ctx context.Context, userID int64) (*subscription.Subscription, error) {
	return r.get(ctx, userID, false)
}

func (r *SubscriptionRepository) get(ctx context.Context, userID int64, lock bool) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := conn(ctx, r.pool).Query(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "query subscription of user %d", userID)
	}
	sub, err := pgx.CollectExactlyOneRow(rows, scanSubscription)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, subscription.ErrNotFound
		}
		return nil, errors.Wrapf(err, "scan subscription of user %d", userID)
	}
	return &sub, nil
}

// Grant applies g under a row lock, creating the subscription on first
// purchase.
func (r *SubscriptionRepository) Grant(ctx context.Context, g subscription.Grant) (*subscription.Subscription, error) {
	var granted subscription.Subscription
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.get(ctx, g.UserID, true)
		if err != nil && !errors.Is(err, subscription.ErrNotFound) {
			return err
		}
		next, err := subscription.Apply(current, g)
		if err != nil {
			return err
		}

		q := conn(ctx, r.pool)
		if current == nil {
			if _, err := q.Exec(ctx,
				`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, g.UserID); err != nil {
				return errors.Wrap(err, "ensure user")
			}
			rows, err := q.Query(ctx, `
				INSERT INTO subscriptions (user_id, status, is_trial, end_date, traffic_limit_gb, device_limit, connected_servers)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING `+subscriptionColumns,
				next.UserID, string(next.Status), next.IsTrial, next.EndDate,
				next.TrafficLimitGB, next.DeviceLimit, next.ConnectedServers)
			if err != nil {
				return errors.Wrap(err, "insert subscription")
			}
			granted, err = pgx.CollectExactlyOneRow(rows, scanSubscription)
			return errors.Wrap(err, "scan inserted subscription")
		}

		rows, err := q.Query(ctx, `
			UPDATE subscriptions
			SET status = $2, is_trial = $3, end_date = $4, traffic_limit_gb = $5,
			    device_limit = $6, connected_servers = $7, updated_at = now()
			WHERE id = $1
			RETURNING `+subscriptionColumns,
			current.ID, string(next.Status), next.IsTrial, next.EndDate,
			next.TrafficLimitGB, next.DeviceLimit, next.ConnectedServers)
		if err != nil {
			return errors.Wrap(err, "update subscription")
		}
		granted, err = pgx.CollectExactlyOneRow(rows, scanSubscription)
		return errors.Wrap(err, "scan updated subscription")
	})
	if err != nil {
		return nil, errors.Wrapf(err, "grant %s to user %d", g.Kind, g.UserID)
	}
	return &granted, nil
}

func scanSubscription(row pgx.CollectableRow) (subscription.Subscription, error) {
	var (
		s      subscription.Subscription
		status string
	)
	err := row.Scan(&s.ID, &s.UserID, &status, &s.IsTrial, &s.EndDate,
		&s.TrafficLimitGB, &s.DeviceLimit, &s.ConnectedServers)
	s.Status = subscription.Status(status)
	s.EndDate = s.EndDate.UTC()
	return s, err
}
