package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/vpn-checkout/internal/domain/checkout"
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
)

var (
	_ pricing.UserDirectory  = (*UserRepository)(nil)
	_ checkout.OfferConsumer = (*UserRepository)(nil)
)

// UserRepository stores users, their promo group assignment and promo offer.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Upsert creates the user on first contact and refreshes the username.
func (r *UserRepository) Upsert(ctx context.Context, id int64, username string) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO users (id, username) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, updated_at = now()`,
		id, username)
	if err != nil {
		return errors.Wrapf(err, "upsert user %d", id)
	}
	return nil
}

// PromoGroup returns the promo group of the user, or nil when the user is
// unknown or has no group.
func (r *UserRepository) PromoGroup(ctx context.Context, userID int64) (*pricing.PromoGroup, error) {
	var g pricing.PromoGroup
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT g.id, g.name, g.category_percents, g.period_percents, g.applies_to_addons
		FROM users u
		JOIN promo_groups g ON g.id = u.promo_group_id
		WHERE u.id = $1`, userID,
	).Scan(&g.ID, &g.Name, &g.CategoryPercents, &g.PeriodPercents, &g.AppliesToAddons)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get promo group of user %d", userID)
	}
	return &g, nil
}

// ActivePromoOffer returns the promo offer of the user or nil.
func (r *UserRepository) ActivePromoOffer(ctx context.Context, userID int64) (*pricing.PromoOffer, error) {
	var (
		percent   int
		expiresAt *time.Time
	)
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT promo_offer_percent, promo_offer_expires_at FROM users WHERE id = $1`, userID,
	).Scan(&percent, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get promo offer of user %d", userID)
	}
	if percent <= 0 {
		return nil, nil
	}
	offer := &pricing.PromoOffer{Percent: percent}
	if expiresAt != nil {
		offer.ExpiresAt = expiresAt.UTC()
	}
	return offer, nil
}

// ConsumePromoOffer clears the promo offer after a charge used it.
func (r *UserRepository) ConsumePromoOffer(ctx context.Context, userID int64) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET promo_offer_percent = 0, promo_offer_expires_at = NULL, updated_at = now()
		WHERE id = $1`, userID)
	if err != nil {
		return errors.Wrapf(err, "consume promo offer of user %d", userID)
	}
	return nil
}

// GrantPromoOffer sets a promo offer for the user unless a larger unexpired
// one is already active. A zero expiresAt never expires. It reports whether
// the offer was set.
func (r *UserRepository) GrantPromoOffer(ctx context.Context, userID int64, percent int, expiresAt time.Time) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO users (id, promo_offer_percent, promo_offer_expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET promo_offer_percent = EXCLUDED.promo_offer_percent,
		    promo_offer_expires_at = EXCLUDED.promo_offer_expires_at,
		    updated_at = now()
		WHERE users.promo_offer_percent < EXCLUDED.promo_offer_percent
		   OR users.promo_offer_expires_at <= now()`,
		userID, percent, nullTime(expiresAt))
	if err != nil {
		return false, errors.Wrapf(err, "grant promo offer to user %d", userID)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertPromoGroup creates or replaces a promo group by name and returns its id.
func (r *UserRepository) UpsertPromoGroup(ctx context.Context, g pricing.PromoGroup) (int64, error) {
	var id int64
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO promo_groups (name, category_percents, period_percents, applies_to_addons)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET category_percents = EXCLUDED.category_percents,
		    period_percents = EXCLUDED.period_percents,
		    applies_to_addons = EXCLUDED.applies_to_addons
		RETURNING id`,
		g.Name, g.CategoryPercents, g.PeriodPercents, g.AppliesToAddons,
	).Scan(&id)
	if err != nil {
		return 0, errors.Wrapf(err, "upsert promo group %s", g.Name)
	}
	return id, nil
}

// AssignPromoGroup puts the user into a promo group; groupID 0 removes it.
func (r *UserRepository) AssignPromoGroup(ctx context.Context, userID, groupID int64) error {
	var group *int64
	if groupID != 0 {
		group = &groupID
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO users (id, promo_group_id) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET promo_group_id = EXCLUDED.promo_group_id, updated_at = now()`,
		userID, group)
	if err != nil {
		return errors.Wrapf(err, "assign promo group to user %d", userID)
	}
	return nil
}
