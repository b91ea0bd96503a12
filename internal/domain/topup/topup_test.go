package topup

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/vpn-checkout/internal/domain/checkout"
	"github.com/xenking/vpn-checkout/internal/domain/ledger"
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
)

// --- Mock implementations ---

type mockPayments struct {
	seen map[string]bool
	err  error
}

func (m *mockPayments) Record(_ context.Context, p Payment) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.seen[p.Reference()] {
		return false, nil
	}
	m.seen[p.Reference()] = true
	return true, nil
}

type mockLedger struct {
	balance pricing.Money
	credits []ledger.Entry
}

func (m *mockLedger) Balance(_ context.Context, _ int64) (pricing.Money, error) {
	return m.balance, nil
}

func (m *mockLedger) Debit(_ context.Context, _ ledger.Entry) (int64, error) {
	return 0, errors.New("unexpected debit")
}

func (m *mockLedger) Credit(_ context.Context, e ledger.Entry) (int64, error) {
	m.balance += e.Amount
	m.credits = append(m.credits, e)
	return int64(len(m.credits)), nil
}

type passTx struct{}

func (passTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockDrafts struct {
	has       bool
	draft     *checkout.Draft
	resumeErr error
	resumed   int
}

func (m *mockDrafts) HasDraft(_ context.Context, _ int64) (bool, error) {
	return m.has, nil
}

func (m *mockDrafts) Resume(_ context.Context, _ int64) (*checkout.Draft, error) {
	m.resumed++
	return m.draft, m.resumeErr
}

type mockNotifier struct {
	offers  []*checkout.Draft
	balance pricing.Money
	err     error
}

func (m *mockNotifier) OfferResume(_ context.Context, _ int64, d *checkout.Draft, balance pricing.Money) error {
	m.offers = append(m.offers, d)
	m.balance = balance
	return m.err
}

// --- Helpers ---

func payment(id string, amount pricing.Money) Payment {
	return Payment{
		Provider:       "yookassa",
		ExternalID:     id,
		UserID:         42,
		Amount:         amount,
		ProviderAmount: amount.Decimal(),
		Currency:       "RUB",
	}
}

func newTestService(l *mockLedger, d *mockDrafts, n *mockNotifier) *Service {
	return NewService(&mockPayments{seen: map[string]bool{}}, l, passTx{}, d, n)
}

// --- Tests ---

func TestConfirm_CreditsAndOffersResume(t *testing.T) {
	l := &mockLedger{balance: 1000}
	draft := &checkout.Draft{UserID: 42, Token: "t1"}
	d := &mockDrafts{has: true, draft: draft}
	n := &mockNotifier{}
	svc := newTestService(l, d, n)

	res, err := svc.Confirm(context.Background(), payment("p-1", 5000))
	require.NoError(t, err)

	assert.False(t, res.Duplicate)
	assert.Equal(t, pricing.Money(6000), res.Balance)
	assert.Same(t, draft, res.Resumed)
	require.Len(t, l.credits, 1)
	assert.Equal(t, "yookassa:p-1", l.credits[0].Reference)
	assert.Equal(t, ledger.KindTopUp, l.credits[0].Kind)
	require.Len(t, n.offers, 1)
	assert.Equal(t, pricing.Money(6000), n.balance)
}

func TestConfirm_DuplicateCallback(t *testing.T) {
	l := &mockLedger{}
	d := &mockDrafts{has: true, draft: &checkout.Draft{}}
	n := &mockNotifier{}
	svc := newTestService(l, d, n)

	_, err := svc.Confirm(context.Background(), payment("p-1", 5000))
	require.NoError(t, err)
	res, err := svc.Confirm(context.Background(), payment("p-1", 5000))
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.Equal(t, pricing.Money(5000), res.Balance)
	assert.Len(t, l.credits, 1)
	assert.Len(t, n.offers, 1)
}

func TestConfirm_NoDraft(t *testing.T) {
	l := &mockLedger{}
	d := &mockDrafts{}
	n := &mockNotifier{}
	svc := newTestService(l, d, n)

	res, err := svc.Confirm(context.Background(), payment("p-2", 100))
	require.NoError(t, err)

	assert.Nil(t, res.Resumed)
	assert.Zero(t, d.resumed)
	assert.Empty(t, n.offers)
}

func TestConfirm_ResumeFailureDoesNotFailCallback(t *testing.T) {
	l := &mockLedger{}
	d := &mockDrafts{has: true, resumeErr: errors.New("db down")}
	n := &mockNotifier{}
	svc := newTestService(l, d, n)

	res, err := svc.Confirm(context.Background(), payment("p-3", 100))
	require.NoError(t, err)
	assert.Equal(t, pricing.Money(100), res.Balance)
	assert.Empty(t, n.offers)
}

func TestConfirm_DraftGoneBetweenChecks(t *testing.T) {
	d := &mockDrafts{has: true, resumeErr: checkout.ErrDraftNotFound}
	n := &mockNotifier{}
	svc := newTestService(&mockLedger{}, d, n)

	res, err := svc.Confirm(context.Background(), payment("p-4", 100))
	require.NoError(t, err)
	assert.Nil(t, res.Resumed)
	assert.Empty(t, n.offers)
}

func TestConfirm_InvalidPayment(t *testing.T) {
	svc := newTestService(&mockLedger{}, &mockDrafts{}, nil)

	tests := []struct {
		name string
		p    Payment
	}{
		{name: "no provider", p: Payment{ExternalID: "x", UserID: 1, Amount: 1}},
		{name: "no external id", p: Payment{Provider: "x", UserID: 1, Amount: 1}},
		{name: "no user", p: Payment{Provider: "x", ExternalID: "x", Amount: 1}},
		{name: "zero amount", p: Payment{Provider: "x", ExternalID: "x", UserID: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Confirm(context.Background(), tt.p)
			require.ErrorIs(t, err, ErrInvalidPayment)
		})
	}
}

func TestConfirm_RecordError(t *testing.T) {
	l := &mockLedger{}
	svc := NewService(&mockPayments{err: errors.New("db down")}, l, passTx{}, &mockDrafts{}, nil)

	_, err := svc.Confirm(context.Background(), Payment{
		Provider: "x", ExternalID: "y", UserID: 1, Amount: 100, ProviderAmount: decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.Empty(t, l.credits)
}
