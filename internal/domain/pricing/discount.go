package pricing

import (
	"context"
	"math"
	"time"

	"github.com/go-faster/errors"
)

// Category identifies which part of a quote a discount percent applies to.
type Category string

const (
	// CategoryPeriod discounts the base subscription period price.
	CategoryPeriod Category = "period"
	// CategoryTraffic discounts the traffic package add-on.
	CategoryTraffic Category = "traffic"
	// CategoryServers discounts the server (country) access add-on.
	CategoryServers Category = "servers"
	// CategoryDevices discounts extra device slots.
	CategoryDevices Category = "devices"
	// CategoryAddonGeneric discounts add-ons without a dedicated category.
	CategoryAddonGeneric Category = "addon-generic"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryPeriod, CategoryTraffic, CategoryServers, CategoryDevices, CategoryAddonGeneric:
		return true
	default:
		return false
	}
}

// PromoGroup is the discount configuration of a user tier.
//
// Absence of a key in either map means 0%.
type PromoGroup struct {
	ID               int64
	Name             string
	CategoryPercents map[Category]int
	// PeriodPercents maps an exact billing period length in days to a percent.
	PeriodPercents map[int]int
	// AppliesToAddons gates every non-period category. When false, add-on
	// categories resolve to 0 regardless of CategoryPercents.
	AppliesToAddons bool
}

// Percent returns the discount percent for the category. periodDays is only
// consulted for CategoryPeriod; period discounts are never interpolated
// between declared lengths.
func (g *PromoGroup) Percent(cat Category, periodDays int) int {
	if g == nil {
		return 0
	}
	if cat == CategoryPeriod {
		return clampPercent(g.PeriodPercents[periodDays])
	}
	if !g.AppliesToAddons {
		return 0
	}
	return clampPercent(g.CategoryPercents[cat])
}

// PromoOffer is a time-limited personal discount applied once on top of the
// group-discounted total.
type PromoOffer struct {
	Percent   int
	ExpiresAt time.Time
}

// ActivePercent returns the offer percent if the offer is still valid at now.
func (o *PromoOffer) ActivePercent(now time.Time) int {
	if o == nil || o.Percent <= 0 {
		return 0
	}
	if !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt) {
		return 0
	}
	return clampPercent(o.Percent)
}

// DiscountState holds every discount input of a user at one instant.
type DiscountState struct {
	Group *PromoGroup
	Offer *PromoOffer
}

// Percent resolves a category percent from the promo group.
func (s DiscountState) Percent(cat Category, periodDays int) int {
	return s.Group.Percent(cat, periodDays)
}

// OfferPercent resolves the promo offer percent at now.
func (s DiscountState) OfferPercent(now time.Time) int {
	return s.Offer.ActivePercent(now)
}

// ApplyPercent discounts price by percent, flooring the discount amount.
// The result always satisfies 0 <= discounted <= price.
func ApplyPercent(price Money, percent int) (discounted, discount Money, err error) {
	if price < 0 {
		return 0, 0, errors.Wrapf(ErrNegativePrice, "apply %d%% to %d", percent, price)
	}
	percent = clampPercent(percent)
	if percent == 0 {
		return price, 0, nil
	}
	if int64(price) > math.MaxInt64/100 {
		return 0, 0, ErrOverflow
	}
	discount = price * Money(percent) / 100
	return price - discount, discount, nil
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// UserDirectory is the read model of user discount assignments.
type UserDirectory interface {
	// PromoGroup returns the group assigned to the user or nil.
	PromoGroup(ctx context.Context, userID int64) (*PromoGroup, error)
	// ActivePromoOffer returns the user's promo offer or nil. Expiry is
	// re-checked by the caller.
	ActivePromoOffer(ctx context.Context, userID int64) (*PromoOffer, error)
}

// Resolver looks up discount percents for users.
type Resolver struct {
	users UserDirectory
}

// NewResolver creates a Resolver backed by the given directory.
func NewResolver(users UserDirectory) *Resolver {
	return &Resolver{users: users}
}

// Load fetches the promo group and promo offer of a user.
func (r *Resolver) Load(ctx context.Context, userID int64) (DiscountState, error) {
	group, err := r.users.PromoGroup(ctx, userID)
	if err != nil {
		return DiscountState{}, errors.Wrap(err, "get promo group")
	}
	offer, err := r.users.ActivePromoOffer(ctx, userID)
	if err != nil {
		return DiscountState{}, errors.Wrap(err, "get promo offer")
	}
	return DiscountState{Group: group, Offer: offer}, nil
}

// Resolve returns the group discount percent of a user for a category. The
// promo offer is deliberately not part of the result: it applies once on the
// aggregate in Compose.
func (r *Resolver) Resolve(ctx context.Context, userID int64, cat Category, periodDays int) (int, error) {
	group, err := r.users.PromoGroup(ctx, userID)
	if err != nil {
		return 0, errors.Wrap(err, "get promo group")
	}
	return group.Percent(cat, periodDays), nil
}
