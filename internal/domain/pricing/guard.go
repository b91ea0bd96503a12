package pricing

import (
	"fmt"
)

// StaleQuoteError reports the first difference between the quote shown to a
// user and the quote recomputed at charge time.
type StaleQuoteError struct {
	Field      string
	Shown      string
	Recomputed string
}

func (e *StaleQuoteError) Error() string {
	return fmt.Sprintf("stale quote: %s changed from %s to %s", e.Field, e.Shown, e.Recomputed)
}

// Guard compares a shown quote with a freshly recomputed one before money is
// taken. In strict mode every component's category, discount percent,
// discounted monthly price and month count must match too, not only the
// final price.
type Guard struct {
	strict bool
}

// NewGuard creates a Guard.
func NewGuard(strict bool) *Guard {
	return &Guard{strict: strict}
}

// Verify returns a *StaleQuoteError if recomputed disagrees with shown.
func (g *Guard) Verify(shown, recomputed Quote) error {
	if shown.Flow != recomputed.Flow {
		return stale("flow", string(shown.Flow), string(recomputed.Flow))
	}
	if shown.FinalPrice != recomputed.FinalPrice {
		return stale("final_price", shown.FinalPrice.String(), recomputed.FinalPrice.String())
	}
	if !g.strict {
		return nil
	}

	if len(shown.Components) != len(recomputed.Components) {
		return stale("components",
			fmt.Sprint(len(shown.Components)), fmt.Sprint(len(recomputed.Components)))
	}
	for i, s := range shown.Components {
		r := recomputed.Components[i]
		switch {
		case s.Name != r.Name:
			return stale(fmt.Sprintf("components[%d].name", i), s.Name, r.Name)
		case s.Category != r.Category:
			return stale(s.Name+".category", string(s.Category), string(r.Category))
		case s.DiscountPercent != r.DiscountPercent:
			return stale(s.Name+".discount_percent", fmt.Sprint(s.DiscountPercent), fmt.Sprint(r.DiscountPercent))
		case s.DiscountedMonthlyPrice != r.DiscountedMonthlyPrice:
			return stale(s.Name+".discounted_monthly_price",
				s.DiscountedMonthlyPrice.String(), r.DiscountedMonthlyPrice.String())
		case s.Months != r.Months:
			return stale(s.Name+".months", fmt.Sprint(s.Months), fmt.Sprint(r.Months))
		}
	}
	if shown.PromoOfferPercent != recomputed.PromoOfferPercent {
		return stale("promo_offer_percent",
			fmt.Sprint(shown.PromoOfferPercent), fmt.Sprint(recomputed.PromoOfferPercent))
	}
	return nil
}

func stale(field, shown, recomputed string) *StaleQuoteError {
	return &StaleQuoteError{Field: field, Shown: shown, Recomputed: recomputed}
}
