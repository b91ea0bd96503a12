package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/vpn-checkout/internal/domain/auth"
	"github.com/xenking/vpn-checkout/internal/domain/checkout"
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
	"github.com/xenking/vpn-checkout/internal/domain/subscription"
	"github.com/xenking/vpn-checkout/internal/domain/topup"
)

// --- Mock implementations ---

type mockCheckout struct {
	gotUserID int64
	gotSel    checkout.Selections
	gotToken  string

	draft    *checkout.Draft
	result   checkout.ChargeResult
	hasDraft bool
	err      error
}

func (m *mockCheckout) Quote(_ context.Context, userID int64, sel checkout.Selections) (*checkout.Draft, error) {
	m.gotUserID, m.gotSel = userID, sel
	return m.draft, m.err
}

func (m *mockCheckout) Charge(_ context.Context, userID int64, token string) (checkout.ChargeResult, error) {
	m.gotUserID, m.gotToken = userID, token
	return m.result, m.err
}

func (m *mockCheckout) Cancel(_ context.Context, userID int64) error {
	m.gotUserID = userID
	return m.err
}

func (m *mockCheckout) HasDraft(_ context.Context, userID int64) (bool, error) {
	m.gotUserID = userID
	return m.hasDraft, m.err
}

func (m *mockCheckout) Resume(_ context.Context, userID int64) (*checkout.Draft, error) {
	m.gotUserID = userID
	return m.draft, m.err
}

type mockTopUps struct {
	got    topup.Payment
	result topup.Result
	err    error
}

func (m *mockTopUps) Confirm(_ context.Context, p topup.Payment) (topup.Result, error) {
	m.got = p
	return m.result, m.err
}

type mockAuth struct{}

func (mockAuth) Authenticate(_ context.Context, key, scope string) (*auth.APIKey, error) {
	switch {
	case key != "valid":
		return nil, auth.ErrUnauthorized
	case scope != auth.ScopeCheckout:
		return nil, auth.ErrForbidden
	}
	return &auth.APIKey{ID: "bot"}, nil
}

// --- Helpers ---

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func testDraft() *checkout.Draft {
	return &checkout.Draft{
		UserID: 42,
		Token:  "tok-1",
		Selections: checkout.Selections{
			Flow: pricing.FlowPurchase, PeriodDays: 30, ServerIDs: []string{"nl"},
		},
		Quote: pricing.Quote{
			Flow:       pricing.FlowPurchase,
			PeriodDays: 30,
			Components: []pricing.Component{{
				Name: "period", Category: pricing.CategoryPeriod, MonthlyUnitPrice: 30000,
				DiscountPercent: 10, DiscountedMonthlyPrice: 27000, Months: 1, TotalPrice: 27000, DiscountTotal: 3000,
			}},
			Subtotal:   27000,
			FinalPrice: 27000,
			ComputedAt: testNow,
		},
		CreatedAt: testNow,
		ExpiresAt: testNow.Add(time.Hour),
	}
}

func newTestServer(c *mockCheckout, t *mockTopUps) http.Handler {
	h := NewHandler(Config{WebhookSecrets: map[string]string{"yookassa": "s3cret"}}, c, t, mockAuth{})
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func call(h http.Handler, method, target, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(APIKeyHeader, "valid")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// --- Tests ---

func TestQuote(t *testing.T) {
	c := &mockCheckout{draft: testDraft()}
	srv := newTestServer(c, &mockTopUps{})

	w := call(srv, http.MethodPost, "/api/checkout/quote",
		`{"user_id":42,"selections":{"flow":"purchase","period_days":30,"devices":2,"server_ids":["nl","de"],"x":1}}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(42), c.gotUserID)
	assert.Equal(t, checkout.Selections{
		Flow: pricing.FlowPurchase, PeriodDays: 30, Devices: 2, ServerIDs: []string{"nl", "de"},
	}, c.gotSel)

	body := w.Body.String()
	assert.Contains(t, body, `"token":"tok-1"`)
	assert.Contains(t, body, `"final_price":27000`)
	assert.Contains(t, body, `"final_price_display":"270.00"`)
	assert.Contains(t, body, `"discount_total":3000`)
	assert.Contains(t, body, `"expires_at":"2025-06-15T13:00:00Z"`)
}

func TestQuote_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantBody string
	}{
		{name: "bad json", body: `{`, wantCode: http.StatusBadRequest},
		{name: "missing user", body: `{"selections":{}}`, wantCode: http.StatusBadRequest},
		{
			name:     "invalid selection",
			body:     `{"user_id":1,"selections":{"flow":"purchase"}}`,
			err:      &checkout.InvalidSelectionError{Field: "period", Reason: "period of 0 days is not offered"},
			wantCode: http.StatusUnprocessableEntity,
			wantBody: `{"code":422,"message":"period of 0 days is not offered","field":"period"}`,
		},
		{
			name:     "internal",
			body:     `{"user_id":1,"selections":{"flow":"purchase"}}`,
			err:      errors.New("db down"),
			wantCode: http.StatusInternalServerError,
			wantBody: `{"code":500,"message":"internal error"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&mockCheckout{err: tt.err}, &mockTopUps{})
			w := call(srv, http.MethodPost, "/api/checkout/quote", tt.body)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestAPIKeyRequired(t *testing.T) {
	srv := newTestServer(&mockCheckout{}, &mockTopUps{})

	req := httptest.NewRequest(http.MethodGet, "/api/checkout/draft?user_id=1", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCharge_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		result checkout.ChargeResult
		want   []string
	}{
		{
			name: "charged",
			result: checkout.ChargeResult{
				Outcome: checkout.OutcomeCharged, TransactionID: 7, Charged: 27000,
				Subscription: &subscription.Subscription{
					ID: 1, Status: subscription.StatusActive, EndDate: testNow, DeviceLimit: 2, ConnectedServers: []string{"nl"},
				},
			},
			want: []string{`"outcome":"charged"`, `"transaction_id":7`, `"charged":27000`, `"connected_servers":["nl"]`},
		},
		{
			name:   "insufficient funds",
			result: checkout.ChargeResult{Outcome: checkout.OutcomeInsufficientFunds, MissingAmount: 7000, Balance: 20000},
			want:   []string{`"outcome":"insufficient_funds"`, `"missing_amount":7000`, `"balance":20000`},
		},
		{
			name: "stale",
			result: checkout.ChargeResult{
				Outcome: checkout.OutcomeStaleQuote,
				Stale:   &pricing.StaleQuoteError{Field: "final_price", Shown: "270.00", Recomputed: "300.00"},
			},
			want: []string{`"outcome":"stale_quote"`, `"field":"final_price"`, `"recomputed":"300.00"`},
		},
		{
			name:   "not found",
			result: checkout.ChargeResult{Outcome: checkout.OutcomeDraftNotFound},
			want:   []string{`{"outcome":"draft_not_found"}`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &mockCheckout{result: tt.result}
			srv := newTestServer(c, &mockTopUps{})

			w := call(srv, http.MethodPost, "/api/checkout/charge", `{"user_id":42,"token":"tok-1"}`)

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "tok-1", c.gotToken)
			for _, s := range tt.want {
				assert.Contains(t, w.Body.String(), s)
			}
		})
	}
}

func TestCharge_RequiresToken(t *testing.T) {
	srv := newTestServer(&mockCheckout{}, &mockTopUps{})
	w := call(srv, http.MethodPost, "/api/checkout/charge", `{"user_id":42}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelResumeAndHasDraft(t *testing.T) {
	c := &mockCheckout{draft: testDraft(), hasDraft: true}
	srv := newTestServer(c, &mockTopUps{})

	w := call(srv, http.MethodPost, "/api/checkout/cancel", `{"user_id":42}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = call(srv, http.MethodPost, "/api/checkout/resume", `{"user_id":42}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"token":"tok-1"`)

	w = call(srv, http.MethodGet, "/api/checkout/draft?user_id=42", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"has_draft":true}`, w.Body.String())

	w = call(srv, http.MethodGet, "/api/checkout/draft", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResume_NotFound(t *testing.T) {
	srv := newTestServer(&mockCheckout{err: checkout.ErrDraftNotFound}, &mockTopUps{})
	w := call(srv, http.MethodPost, "/api/checkout/resume", `{"user_id":42}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConfirmPayment(t *testing.T) {
	body := `{"external_id":"pay-1","user_id":42,"amount":"150.50","provider_amount":1.5,"currency":"USDT"}`
	sig := Sign([]byte("s3cret"), []byte(body))

	t.Run("ok", func(t *testing.T) {
		tu := &mockTopUps{result: topup.Result{Balance: 15050, Resumed: testDraft()}}
		srv := newTestServer(&mockCheckout{}, tu)

		w := call(srv, http.MethodPost, "/api/payments/yookassa/confirm", body, SignatureHeader, sig)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"duplicate":false,"balance":15050,"resumed":true,"token":"tok-1"}`, w.Body.String())
		assert.Equal(t, "yookassa", tu.got.Provider)
		assert.Equal(t, "pay-1", tu.got.ExternalID)
		assert.Equal(t, int64(42), tu.got.UserID)
		assert.Equal(t, pricing.Money(15050), tu.got.Amount)
		assert.Equal(t, "1.5", tu.got.ProviderAmount.String())
	})

	t.Run("bad signature", func(t *testing.T) {
		tu := &mockTopUps{}
		srv := newTestServer(&mockCheckout{}, tu)

		w := call(srv, http.MethodPost, "/api/payments/yookassa/confirm", body, SignatureHeader, Sign([]byte("other"), []byte(body)))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Empty(t, tu.got.Provider)
	})

	t.Run("unknown provider", func(t *testing.T) {
		srv := newTestServer(&mockCheckout{}, &mockTopUps{})
		w := call(srv, http.MethodPost, "/api/payments/stripe/confirm", body, SignatureHeader, sig)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid payment", func(t *testing.T) {
		srv := newTestServer(&mockCheckout{}, &mockTopUps{err: errors.Wrap(topup.ErrInvalidPayment, "amount 0.00")})
		w := call(srv, http.MethodPost, "/api/payments/yookassa/confirm", body, SignatureHeader, sig)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
