// Package ledger defines the prepaid balance boundary: atomic debit and
// credit plus an append-only transaction log.
package ledger

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/vpn-checkout/internal/domain/pricing"
)

var (
	// ErrInsufficientFunds is returned by Debit when the balance is lower
	// than the amount at the moment of the debit.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDuplicateReference is returned when an entry of the same kind with
	// the same reference was already recorded.
	ErrDuplicateReference = errors.New("duplicate ledger reference")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Kind classifies ledger entries.
type Kind string

const (
	KindCharge Kind = "charge"
	KindTopUp  Kind = "topup"
)

// Entry is one line of the transaction log. Amount is always positive; the
// direction follows from the operation.
type Entry struct {
	ID          int64
	UserID      int64
	Amount      pricing.Money
	Kind        Kind
	Description string
	// Reference makes the entry idempotent: a draft token for charges, a
	// provider payment id for top-ups.
	Reference string
	CreatedAt time.Time
}

// Ledger is the balance store.
//
// Debit and Credit must be atomic with respect to concurrent calls for the
// same user and must honor a transaction carried in ctx.
type Ledger interface {
	Balance(ctx context.Context, userID int64) (pricing.Money, error)
	// Debit subtracts e.Amount if the balance covers it and appends e to the
	// log. It returns the new entry id.
	Debit(ctx context.Context, e Entry) (int64, error)
	// Credit adds e.Amount and appends e to the log.
	Credit(ctx context.Context, e Entry) (int64, error)
}
