// Package topup handles confirmed balance top-ups reported by payment
// providers and hands the user back to an interrupted checkout.
package topup

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/vpn-checkout/internal/domain/checkout"
	"github.com/xenking/vpn-checkout/internal/domain/ledger"
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
)

// ErrInvalidPayment is returned for payments missing required fields.
var ErrInvalidPayment = errors.New("invalid payment")

// Payment is a provider-neutral confirmed payment.
type Payment struct {
	Provider   string
	ExternalID string
	UserID     int64
	// Amount is credited to the balance.
	Amount pricing.Money
	// ProviderAmount is the amount as reported by the provider, possibly in
	// another currency. Stored for reconciliation only.
	ProviderAmount decimal.Decimal
	Currency       string
	ConfirmedAt    time.Time
}

// Reference is the ledger reference of the payment.
func (p Payment) Reference() string {
	return p.Provider + ":" + p.ExternalID
}

// Repository records confirmed payments.
type Repository interface {
	// Record stores p and reports false if the same provider payment was
	// already recorded.
	Record(ctx context.Context, p Payment) (bool, error)
}

// TxRunner runs fn in a single transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Drafts is the part of the checkout engine a top-up resumes.
type Drafts interface {
	HasDraft(ctx context.Context, userID int64) (bool, error)
	Resume(ctx context.Context, userID int64) (*checkout.Draft, error)
}

// Notifier tells the user that an interrupted checkout can be finished.
type Notifier interface {
	OfferResume(ctx context.Context, userID int64, d *checkout.Draft, balance pricing.Money) error
}

// Result of Service.Confirm.
type Result struct {
	// Duplicate is true when the payment had been confirmed before and no
	// credit was made.
	Duplicate bool
	Balance   pricing.Money
	// Resumed is the re-quoted draft offered to the user, if any.
	Resumed *checkout.Draft
}

// Service credits confirmed payments.
type Service struct {
	payments Repository
	ledger   ledger.Ledger
	tx       TxRunner
	drafts   Drafts
	notifier Notifier
}

// NewService creates a top-up Service. notifier may be nil.
func NewService(payments Repository, l ledger.Ledger, tx TxRunner, drafts Drafts, notifier Notifier) *Service {
	return &Service{
		payments: payments,
		ledger:   l,
		tx:       tx,
		drafts:   drafts,
		notifier: notifier,
	}
}

// Confirm records and credits p exactly once, then offers the user to resume
// a pending checkout.
func (s *Service) Confirm(ctx context.Context, p Payment) (Result, error) {
	switch {
	case p.Provider == "" || p.ExternalID == "":
		return Result{}, errors.Wrap(ErrInvalidPayment, "provider and external id are required")
	case p.UserID == 0:
		return Result{}, errors.Wrap(ErrInvalidPayment, "user id is required")
	case p.Amount <= 0:
		return Result{}, errors.Wrapf(ErrInvalidPayment, "amount %s", p.Amount)
	}
	lg := zctx.From(ctx).With(
		zap.String("provider", p.Provider),
		zap.String("external_id", p.ExternalID),
		zap.Int64("user_id", p.UserID),
	)

	var duplicate bool
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		created, err := s.payments.Record(ctx, p)
		if err != nil {
			return errors.Wrap(err, "record payment")
		}
		if !created {
			duplicate = true
			return nil
		}
		if _, err := s.ledger.Credit(ctx, ledger.Entry{
			UserID:      p.UserID,
			Amount:      p.Amount,
			Kind:        ledger.KindTopUp,
			Description: "balance top-up via " + p.Provider,
			Reference:   p.Reference(),
		}); err != nil {
			return errors.Wrap(err, "credit")
		}
		return nil
	})
	if errors.Is(err, ledger.ErrDuplicateReference) {
		duplicate, err = true, nil
	}
	if err != nil {
		return Result{}, err
	}

	balance, err := s.ledger.Balance(ctx, p.UserID)
	if err != nil {
		return Result{}, errors.Wrap(err, "get balance")
	}
	res := Result{Duplicate: duplicate, Balance: balance}
	if duplicate {
		lg.Info("Duplicate payment confirmation")
		return res, nil
	}
	lg.Info("Balance topped up", zap.Stringer("amount", p.Amount), zap.Stringer("balance", balance))

	// The credit is committed at this point; a failed resume offer must not
	// fail the callback.
	d, err := s.resume(ctx, p.UserID)
	if err != nil {
		lg.Warn("Resume checkout after top-up", zap.Error(err))
		return res, nil
	}
	res.Resumed = d
	if d != nil && s.notifier != nil {
		if err := s.notifier.OfferResume(ctx, p.UserID, d, balance); err != nil {
			lg.Warn("Offer checkout resume", zap.Error(err))
		}
	}
	return res, nil
}

func (s *Service) resume(ctx context.Context, userID int64) (*checkout.Draft, error) {
	has, err := s.drafts.HasDraft(ctx, userID)
	if err != nil || !has {
		return nil, err
	}
	d, err := s.drafts.Resume(ctx, userID)
	if errors.Is(err, checkout.ErrDraftNotFound) {
		return nil, nil
	}
	return d, err
}
