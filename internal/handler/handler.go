// Package handler exposes the checkout engine and payment callbacks over a
// JSON HTTP API.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/vpn-checkout/internal/domain/auth"
	"github.com/xenking/vpn-checkout/internal/domain/checkout"
	"github.com/xenking/vpn-checkout/internal/domain/topup"
)

// Checkout is the part of checkout.Service served over HTTP.
type Checkout interface {
	Quote(ctx context.Context, userID int64, sel checkout.Selections) (*checkout.Draft, error)
	Charge(ctx context.Context, userID int64, token string) (checkout.ChargeResult, error)
	Cancel(ctx context.Context, userID int64) error
	HasDraft(ctx context.Context, userID int64) (bool, error)
	Resume(ctx context.Context, userID int64) (*checkout.Draft, error)
}

// TopUps confirms provider payments.
type TopUps interface {
	Confirm(ctx context.Context, p topup.Payment) (topup.Result, error)
}

// Authenticator resolves API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, key, scope string) (*auth.APIKey, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// WebhookSecrets maps a payment provider name to the HMAC secret its
	// callbacks are signed with. Providers without a secret are rejected.
	WebhookSecrets map[string]string
	// MaxBodyBytes limits request bodies. Defaults to 64 KiB.
	MaxBodyBytes int64
}

// Handler serves the API.
type Handler struct {
	checkout Checkout
	topups   TopUps
	auth     Authenticator
	secrets  map[string][]byte
	maxBody  int64
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, c Checkout, t TopUps, a Authenticator) *Handler {
	secrets := make(map[string][]byte, len(cfg.WebhookSecrets))
	for provider, secret := range cfg.WebhookSecrets {
		if secret != "" {
			secrets[provider] = []byte(secret)
		}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 64 << 10
	}
	return &Handler{
		checkout: c,
		topups:   t,
		auth:     a,
		secrets:  secrets,
		maxBody:  maxBody,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/checkout/quote", h.requireKey(auth.ScopeCheckout, h.Quote))
	mux.HandleFunc("POST /api/checkout/charge", h.requireKey(auth.ScopeCheckout, h.Charge))
	mux.HandleFunc("POST /api/checkout/cancel", h.requireKey(auth.ScopeCheckout, h.Cancel))
	mux.HandleFunc("POST /api/checkout/resume", h.requireKey(auth.ScopeCheckout, h.Resume))
	mux.HandleFunc("GET /api/checkout/draft", h.requireKey(auth.ScopeCheckout, h.HasDraft))
	mux.HandleFunc("POST /api/payments/{provider}/confirm", h.ConfirmPayment)
}
