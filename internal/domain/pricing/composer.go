package pricing

import (
	"time"

	"github.com/go-faster/errors"
)

// Flow identifies the purchase path a quote is computed for.
type Flow string

const (
	// FlowPurchase is a brand-new subscription: the period price is charged
	// in full and add-ons are charged for every month of the period.
	FlowPurchase Flow = "purchase"
	// FlowRenewal extends an existing subscription by a new period.
	FlowRenewal Flow = "renewal"
	// FlowAddOn attaches add-ons to an existing subscription mid-cycle. Add-on
	// prices are prorated against the subscription end date.
	FlowAddOn Flow = "addon"
)

// Valid reports whether f is a known flow.
func (f Flow) Valid() bool {
	switch f {
	case FlowPurchase, FlowRenewal, FlowAddOn:
		return true
	default:
		return false
	}
}

// ErrInvalidRequest is returned by Compose for structurally invalid input.
var ErrInvalidRequest = errors.New("invalid pricing request")

// Component is one itemized line of a quote.
type Component struct {
	Name                   string   `json:"name"`
	Category               Category `json:"category"`
	MonthlyUnitPrice       Money    `json:"monthly_unit_price"`
	DiscountPercent        int      `json:"discount_percent"`
	DiscountedMonthlyPrice Money    `json:"discounted_monthly_price"`
	Months                 int      `json:"months"`
	TotalPrice             Money    `json:"total_price"`
	DiscountTotal          Money    `json:"discount_total"`
}

// NewComponent builds a component whose totals satisfy
//
//	discounted = unit - floor(unit * percent / 100)
//	total      = discounted * months
//	discount   = (unit - discounted) * months
func NewComponent(name string, cat Category, unit Money, percent, months int) (Component, error) {
	if months < 1 {
		return Component{}, errors.Wrapf(ErrInvalidRequest, "component %s: months %d", name, months)
	}
	discounted, perMonth, err := ApplyPercent(unit, percent)
	if err != nil {
		return Component{}, errors.Wrapf(err, "component %s", name)
	}
	total, err := discounted.Mul(int64(months))
	if err != nil {
		return Component{}, errors.Wrapf(err, "component %s", name)
	}
	discountTotal, err := perMonth.Mul(int64(months))
	if err != nil {
		return Component{}, errors.Wrapf(err, "component %s", name)
	}
	return Component{
		Name:                   name,
		Category:               cat,
		MonthlyUnitPrice:       unit,
		DiscountPercent:        clampPercent(percent),
		DiscountedMonthlyPrice: discounted,
		Months:                 months,
		TotalPrice:             total,
		DiscountTotal:          discountTotal,
	}, nil
}

// Quote is the itemized price shown to a user.
type Quote struct {
	Flow               Flow        `json:"flow"`
	PeriodDays         int         `json:"period_days,omitempty"`
	Components         []Component `json:"components"`
	Subtotal           Money       `json:"subtotal"`
	PromoOfferPercent  int         `json:"promo_offer_percent"`
	PromoOfferDiscount Money       `json:"promo_offer_discount"`
	FinalPrice         Money       `json:"final_price"`
	ComputedAt         time.Time   `json:"computed_at"`
}

// DiscountTotal returns the sum of category discounts plus the promo offer.
func (q Quote) DiscountTotal() Money {
	total := q.PromoOfferDiscount
	for _, c := range q.Components {
		total += c.DiscountTotal
	}
	return total
}

// AddOn is a recurring monthly add-on price resolved from the catalog.
type AddOn struct {
	Name         string
	Category     Category
	MonthlyPrice Money
}

// Request holds every input of a composition. Catalog prices are already
// resolved, so Compose is a pure function of Request.
type Request struct {
	Flow       Flow
	PeriodDays int
	// PeriodPrice is the undiscounted price of the whole period. Ignored for
	// FlowAddOn.
	PeriodPrice Money
	AddOns      []AddOn
	Discounts   DiscountState
	// SubscriptionEnd is the expiry of the subscription add-ons attach to.
	// Only used for FlowAddOn.
	SubscriptionEnd time.Time
	Now             time.Time
}

// Compose produces a quote in a fixed order: discounted period price, each
// independently discounted add-on, the subtotal, and finally the promo offer
// applied once to the subtotal.
func Compose(req Request) (Quote, error) {
	if !req.Flow.Valid() {
		return Quote{}, errors.Wrapf(ErrInvalidRequest, "flow %q", req.Flow)
	}

	components := make([]Component, 0, len(req.AddOns)+1)

	if req.Flow != FlowAddOn {
		if req.PeriodDays <= 0 {
			return Quote{}, errors.Wrapf(ErrInvalidRequest, "period %d days", req.PeriodDays)
		}
		percent := req.Discounts.Percent(CategoryPeriod, req.PeriodDays)
		base, err := NewComponent(string(CategoryPeriod), CategoryPeriod, req.PeriodPrice, percent, 1)
		if err != nil {
			return Quote{}, err
		}
		components = append(components, base)
	}

	for _, a := range req.AddOns {
		if !a.Category.Valid() || a.Category == CategoryPeriod {
			return Quote{}, errors.Wrapf(ErrInvalidRequest, "add-on %s category %q", a.Name, a.Category)
		}
		percent := req.Discounts.Percent(a.Category, req.PeriodDays)

		var months int
		if req.Flow == FlowAddOn {
			discounted, _, err := ApplyPercent(a.MonthlyPrice, percent)
			if err != nil {
				return Quote{}, errors.Wrapf(err, "add-on %s", a.Name)
			}
			if _, months, err = Prorate(discounted, req.SubscriptionEnd, req.Now); err != nil {
				return Quote{}, errors.Wrapf(err, "add-on %s", a.Name)
			}
		} else {
			months = MonthsInPeriod(req.PeriodDays)
		}

		c, err := NewComponent(a.Name, a.Category, a.MonthlyPrice, percent, months)
		if err != nil {
			return Quote{}, err
		}
		components = append(components, c)
	}

	itemized := components[:0]
	var subtotal Money
	for _, c := range components {
		if c.MonthlyUnitPrice == 0 {
			continue
		}
		var err error
		if subtotal, err = Add(subtotal, c.TotalPrice); err != nil {
			return Quote{}, errors.Wrap(err, "subtotal")
		}
		itemized = append(itemized, c)
	}

	offerPercent := req.Discounts.OfferPercent(req.Now)
	final, offerDiscount, err := ApplyPercent(subtotal, offerPercent)
	if err != nil {
		return Quote{}, errors.Wrap(err, "promo offer")
	}

	q := Quote{
		Flow:               req.Flow,
		Components:         itemized,
		Subtotal:           subtotal,
		PromoOfferPercent:  offerPercent,
		PromoOfferDiscount: offerDiscount,
		FinalPrice:         final,
		ComputedAt:         req.Now,
	}
	if req.Flow != FlowAddOn {
		q.PeriodDays = req.PeriodDays
	}
	return q, nil
}
