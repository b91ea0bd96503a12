package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const (
	// APIKeyHeader carries the client API key.
	APIKeyHeader = "X-API-Key"
	// SignatureHeader carries the hex HMAC-SHA256 of a webhook body.
	SignatureHeader = "X-Signature"
)

var errBadSignature = errors.New("invalid signature")

// requireKey authenticates the request API key before calling next.
func (h *Handler) requireKey(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := h.auth.Authenticate(r.Context(), r.Header.Get(APIKeyHeader), scope)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		ctx := zctx.With(r.Context(), zap.String("api_key", key.ID))
		next(w, r.WithContext(ctx))
	}
}

// Sign returns the signature a provider puts into SignatureHeader.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifySignature(secret, body []byte, signature string) error {
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil || len(got) == 0 {
		return errBadSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return errBadSignature
	}
	return nil
}
