package checkout

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/vpn-checkout/internal/domain/pricing"
)

// ErrDraftNotFound is returned when the user has no draft, the draft expired,
// or it is not offered for resumption.
var ErrDraftNotFound = errors.New("checkout draft not found")

// Selections is what the user picked.
//
// For FlowPurchase every field is the full configuration of the new
// subscription. For FlowRenewal only PeriodDays is read; add-ons are taken
// from the current entitlements. For FlowAddOn TrafficGB is the package to
// add (0 for none), Devices the number of slots to add and ServerIDs the
// servers to connect.
type Selections struct {
	Flow       pricing.Flow `json:"flow"`
	PeriodDays int          `json:"period_days,omitempty"`
	TrafficGB  int          `json:"traffic_gb,omitempty"`
	Devices    int          `json:"devices,omitempty"`
	ServerIDs  []string     `json:"server_ids,omitempty"`
}

// Equal reports whether both selections describe the same purchase.
func (s Selections) Equal(o Selections) bool {
	return s.Flow == o.Flow &&
		s.PeriodDays == o.PeriodDays &&
		s.TrafficGB == o.TrafficGB &&
		s.Devices == o.Devices &&
		slices.Equal(s.ServerIDs, o.ServerIDs)
}

// Draft is an in-flight, not yet paid checkout of one user.
type Draft struct {
	UserID int64 `json:"user_id"`
	// Token identifies the quote the user confirms. A charge with any other
	// token is rejected.
	Token      string        `json:"token"`
	Selections Selections    `json:"selections"`
	Quote      pricing.Quote `json:"quote"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
}

// Expired reports whether the draft TTL has elapsed at now.
func (d *Draft) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// DraftStore persists at most one draft per user.
type DraftStore interface {
	// Save stores d under d.UserID, replacing any previous draft. The draft
	// becomes invisible after ttl.
	Save(ctx context.Context, d *Draft, ttl time.Duration) error
	// Get returns ErrDraftNotFound for missing and expired drafts.
	Get(ctx context.Context, userID int64) (*Draft, error)
	Clear(ctx context.Context, userID int64) error
}

// TxRunner runs fn in a single database transaction carried by ctx.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DiscountLoader loads the discount inputs of a user.
type DiscountLoader interface {
	Load(ctx context.Context, userID int64) (pricing.DiscountState, error)
}

// OfferConsumer clears a used promo offer.
type OfferConsumer interface {
	ConsumePromoOffer(ctx context.Context, userID int64) error
}
