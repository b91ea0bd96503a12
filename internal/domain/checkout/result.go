package checkout

import (
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
	"github.com/xenking/vpn-checkout/internal/domain/subscription"
)

// Outcome is the discriminant of ChargeResult.
type Outcome string

const (
	// OutcomeCharged means the balance was debited and the entitlement granted.
	OutcomeCharged Outcome = "charged"
	// OutcomeInsufficientFunds means the balance does not cover the quote.
	// The draft is kept so the user can top up and resume.
	OutcomeInsufficientFunds Outcome = "insufficient_funds"
	// OutcomeStaleQuote means the recomputed quote differs from the one shown.
	// The draft is discarded.
	OutcomeStaleQuote Outcome = "stale_quote"
	// OutcomeLedgerRejected means the ledger refused the debit, usually
	// because a concurrent debit drained the balance first. The draft is kept.
	OutcomeLedgerRejected Outcome = "ledger_rejected"
	// OutcomeDraftNotFound means there is no live draft for the token.
	OutcomeDraftNotFound Outcome = "draft_not_found"
	// OutcomeAlreadyCharged means the token was charged before.
	OutcomeAlreadyCharged Outcome = "already_charged"
)

// ChargeResult is the result of Service.Charge. Which fields are set depends
// on Outcome.
type ChargeResult struct {
	Outcome Outcome

	// OutcomeCharged.
	TransactionID int64
	Charged       pricing.Money
	Subscription  *subscription.Subscription

	// OutcomeInsufficientFunds.
	MissingAmount pricing.Money
	Balance       pricing.Money

	// OutcomeStaleQuote. Recomputed is nil when the selection can no longer
	// be priced at all.
	Stale      *pricing.StaleQuoteError
	Recomputed *pricing.Quote
}
