// Package checkout drives quoting, charging and resuming of subscription
// purchases on top of the pricing engine.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/vpn-checkout/internal/domain/catalog"
	"github.com/xenking/vpn-checkout/internal/domain/ledger"
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
	"github.com/xenking/vpn-checkout/internal/domain/subscription"
)

// DefaultDraftTTL is used when Deps.DraftTTL is zero.
const DefaultDraftTTL = time.Hour

// Deps holds the collaborators of Service.
type Deps struct {
	Catalog       catalog.Repository
	Subscriptions subscription.Repository
	Ledger        ledger.Ledger
	Discounts     DiscountLoader
	Offers        OfferConsumer
	Drafts        DraftStore
	Tx            TxRunner
	Guard         *pricing.Guard
	// Meter is optional.
	Meter    metric.Meter
	DraftTTL time.Duration
}

// Service is the checkout engine used by the chat front end and the payment
// callback.
type Service struct {
	catalog       catalog.Repository
	subscriptions subscription.Repository
	ledger        ledger.Ledger
	discounts     DiscountLoader
	offers        OfferConsumer
	drafts        DraftStore
	tx            TxRunner
	guard         *pricing.Guard
	ttl           time.Duration

	quotes  metric.Int64Counter
	charges metric.Int64Counter

	now func() time.Time
}

// NewService validates deps and creates a Service.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("checkout: catalog is required")
	case deps.Subscriptions == nil:
		return nil, errors.New("checkout: subscriptions are required")
	case deps.Ledger == nil:
		return nil, errors.New("checkout: ledger is required")
	case deps.Discounts == nil:
		return nil, errors.New("checkout: discounts are required")
	case deps.Offers == nil:
		return nil, errors.New("checkout: offers are required")
	case deps.Drafts == nil:
		return nil, errors.New("checkout: draft store is required")
	case deps.Tx == nil:
		return nil, errors.New("checkout: tx runner is required")
	}
	if deps.Guard == nil {
		deps.Guard = pricing.NewGuard(true)
	}
	if deps.DraftTTL <= 0 {
		deps.DraftTTL = DefaultDraftTTL
	}
	if deps.Meter == nil {
		deps.Meter = noop.NewMeterProvider().Meter("checkout")
	}

	quotes, err := deps.Meter.Int64Counter("checkout.quotes",
		metric.WithDescription("Number of computed checkout quotes"))
	if err != nil {
		return nil, errors.Wrap(err, "create quotes counter")
	}
	charges, err := deps.Meter.Int64Counter("checkout.charges",
		metric.WithDescription("Number of charge attempts by outcome"))
	if err != nil {
		return nil, errors.Wrap(err, "create charges counter")
	}

	return &Service{
		catalog:       deps.Catalog,
		subscriptions: deps.Subscriptions,
		ledger:        deps.Ledger,
		discounts:     deps.Discounts,
		offers:        deps.Offers,
		drafts:        deps.Drafts,
		tx:            deps.Tx,
		guard:         deps.Guard,
		ttl:           deps.DraftTTL,
		quotes:        quotes,
		charges:       charges,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Quote prices sel for the user and stores the result as the user's draft.
// Re-quoting unchanged selections keeps the draft token.
func (s *Service) Quote(ctx context.Context, userID int64, sel Selections) (*Draft, error) {
	now := s.now()
	sub, err := s.subscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	p, err := s.build(ctx, userID, sel, sub, now)
	if err != nil {
		return nil, err
	}
	q, err := pricing.Compose(p.request)
	if err != nil {
		return nil, errors.Wrap(err, "compose quote")
	}

	prev, err := s.drafts.Get(ctx, userID)
	if err != nil && !errors.Is(err, ErrDraftNotFound) {
		return nil, errors.Wrap(err, "get draft")
	}
	d, err := s.store(ctx, userID, prev, p.selections, q, now)
	if err != nil {
		return nil, err
	}
	s.quotes.Add(ctx, 1, metric.WithAttributes(attribute.String("flow", string(q.Flow))))
	return d, nil
}

// Charge confirms the draft identified by token. Expected states such as
// insufficient funds or a stale quote are reported through the result, not
// as errors.
func (s *Service) Charge(ctx context.Context, userID int64, token string) (ChargeResult, error) {
	lg := zctx.From(ctx).With(zap.Int64("user_id", userID))

	res, err := s.charge(ctx, userID, token)
	if err != nil {
		lg.Error("Charge failed", zap.Error(err))
		return ChargeResult{}, err
	}
	s.charges.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(res.Outcome))))

	fields := []zap.Field{zap.String("outcome", string(res.Outcome))}
	switch res.Outcome {
	case OutcomeCharged:
		fields = append(fields,
			zap.Int64("transaction_id", res.TransactionID),
			zap.Stringer("amount", res.Charged))
	case OutcomeInsufficientFunds:
		fields = append(fields, zap.Stringer("missing", res.MissingAmount))
	case OutcomeStaleQuote:
		fields = append(fields, zap.Error(res.Stale))
	}
	lg.Info("Charge", fields...)
	return res, nil
}

func (s *Service) charge(ctx context.Context, userID int64, token string) (ChargeResult, error) {
	now := s.now()

	d, err := s.drafts.Get(ctx, userID)
	switch {
	case errors.Is(err, ErrDraftNotFound):
		return ChargeResult{Outcome: OutcomeDraftNotFound}, nil
	case err != nil:
		return ChargeResult{}, errors.Wrap(err, "get draft")
	case d.Token != token:
		return ChargeResult{Outcome: OutcomeDraftNotFound}, nil
	}

	sub, err := s.subscription(ctx, userID)
	if err != nil {
		return ChargeResult{}, err
	}
	p, err := s.build(ctx, userID, d.Selections, sub, now)
	var invalidErr *InvalidSelectionError
	switch {
	case errors.As(err, &invalidErr):
		if err := s.clear(ctx, userID); err != nil {
			return ChargeResult{}, err
		}
		return ChargeResult{
			Outcome: OutcomeStaleQuote,
			Stale: &pricing.StaleQuoteError{
				Field:      invalidErr.Field,
				Shown:      "available",
				Recomputed: invalidErr.Reason,
			},
		}, nil
	case err != nil:
		return ChargeResult{}, err
	}
	recomputed, err := pricing.Compose(p.request)
	if err != nil {
		return ChargeResult{}, errors.Wrap(err, "recompute quote")
	}

	var staleErr *pricing.StaleQuoteError
	if err := s.guard.Verify(d.Quote, recomputed); errors.As(err, &staleErr) {
		if err := s.clear(ctx, userID); err != nil {
			return ChargeResult{}, err
		}
		return ChargeResult{Outcome: OutcomeStaleQuote, Stale: staleErr, Recomputed: &recomputed}, nil
	}

	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return ChargeResult{}, errors.Wrap(err, "get balance")
	}
	if balance < recomputed.FinalPrice {
		return ChargeResult{
			Outcome:       OutcomeInsufficientFunds,
			MissingAmount: recomputed.FinalPrice - balance,
			Balance:       balance,
		}, nil
	}

	var (
		txID    int64
		granted *subscription.Subscription
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		txID, err = s.ledger.Debit(ctx, ledger.Entry{
			UserID:      userID,
			Amount:      recomputed.FinalPrice,
			Kind:        ledger.KindCharge,
			Description: describe(recomputed),
			Reference:   d.Token,
		})
		if err != nil {
			return errors.Wrap(err, "debit")
		}
		if granted, err = s.subscriptions.Grant(ctx, p.grant); err != nil {
			return errors.Wrap(err, "grant subscription")
		}
		if recomputed.PromoOfferPercent > 0 {
			if err := s.offers.ConsumePromoOffer(ctx, userID); err != nil {
				return errors.Wrap(err, "consume promo offer")
			}
		}
		return nil
	})
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return ChargeResult{Outcome: OutcomeLedgerRejected}, nil
	case errors.Is(err, ledger.ErrDuplicateReference):
		if err := s.clear(ctx, userID); err != nil {
			return ChargeResult{}, err
		}
		return ChargeResult{Outcome: OutcomeAlreadyCharged}, nil
	case err != nil:
		return ChargeResult{}, err
	}

	// The charge is committed; a leftover draft only costs a duplicate
	// reference on the next attempt.
	if err := s.drafts.Clear(ctx, userID); err != nil {
		zctx.From(ctx).Warn("Clear charged draft", zap.Int64("user_id", userID), zap.Error(err))
	}
	return ChargeResult{
		Outcome:       OutcomeCharged,
		TransactionID: txID,
		Charged:       recomputed.FinalPrice,
		Subscription:  granted,
	}, nil
}

// Cancel drops the user's draft without charging.
func (s *Service) Cancel(ctx context.Context, userID int64) error {
	return s.clear(ctx, userID)
}

// HasDraft reports whether the user has a draft that may be offered for
// resumption.
func (s *Service) HasDraft(ctx context.Context, userID int64) (bool, error) {
	d, err := s.drafts.Get(ctx, userID)
	switch {
	case errors.Is(err, ErrDraftNotFound):
		return false, nil
	case err != nil:
		return false, errors.Wrap(err, "get draft")
	}
	sub, err := s.subscription(ctx, userID)
	if err != nil {
		return false, err
	}
	return resumable(d, sub, s.now()), nil
}

// Resume re-quotes the user's draft from its stored selections and refreshes
// its TTL. The token survives only if the new quote matches the stored one.
func (s *Service) Resume(ctx context.Context, userID int64) (*Draft, error) {
	now := s.now()
	d, err := s.drafts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	sub, err := s.subscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !resumable(d, sub, now) {
		return nil, ErrDraftNotFound
	}

	p, err := s.build(ctx, userID, d.Selections, sub, now)
	var invalidErr *InvalidSelectionError
	if errors.As(err, &invalidErr) {
		if err := s.clear(ctx, userID); err != nil {
			return nil, err
		}
		return nil, invalidErr
	}
	if err != nil {
		return nil, err
	}
	q, err := pricing.Compose(p.request)
	if err != nil {
		return nil, errors.Wrap(err, "compose quote")
	}
	return s.store(ctx, userID, d, p.selections, q, now)
}

// store saves a new draft version. The previous token and creation time are
// kept when the purchase and its price did not change.
func (s *Service) store(
	ctx context.Context,
	userID int64,
	prev *Draft,
	sel Selections,
	q pricing.Quote,
	now time.Time,
) (*Draft, error) {
	d := &Draft{
		UserID:     userID,
		Token:      uuid.NewString(),
		Selections: sel,
		Quote:      q,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	if prev != nil {
		d.CreatedAt = prev.CreatedAt
		if prev.Selections.Equal(sel) && s.guard.Verify(prev.Quote, q) == nil {
			d.Token = prev.Token
		}
	}
	if err := s.drafts.Save(ctx, d, s.ttl); err != nil {
		return nil, errors.Wrap(err, "save draft")
	}
	return d, nil
}

func (s *Service) clear(ctx context.Context, userID int64) error {
	if err := s.drafts.Clear(ctx, userID); err != nil {
		return errors.Wrap(err, "clear draft")
	}
	return nil
}

func (s *Service) subscription(ctx context.Context, userID int64) (*subscription.Subscription, error) {
	sub, err := s.subscriptions.GetByUser(ctx, userID)
	switch {
	case errors.Is(err, subscription.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "get subscription")
	}
	return sub, nil
}

// resumable applies the resume policy: a new-purchase draft is only offered
// to users without an active paid subscription, renewal drafts need the
// subscription they extend and add-on drafts need it to be active.
func resumable(d *Draft, sub *subscription.Subscription, now time.Time) bool {
	switch d.Selections.Flow {
	case pricing.FlowPurchase:
		return !sub.PaidActive(now)
	case pricing.FlowAddOn:
		return sub.Active(now)
	default:
		return sub != nil
	}
}

func describe(q pricing.Quote) string {
	switch q.Flow {
	case pricing.FlowPurchase:
		return "subscription purchase"
	case pricing.FlowRenewal:
		return "subscription renewal"
	default:
		return "subscription add-ons"
	}
}
