package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/vpn-checkout/internal/domain/auth"
	"github.com/xenking/vpn-checkout/internal/domain/checkout"
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
	"github.com/xenking/vpn-checkout/internal/domain/topup"
)

var errUnknownProvider = errors.New("unknown payment provider")

// writeErr maps domain errors to HTTP responses. Unmapped errors are logged
// and returned as 500 without details.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var (
		code  = http.StatusInternalServerError
		msg   = "internal error"
		field string
	)

	var (
		badReq  *badRequestError
		invalid *checkout.InvalidSelectionError
	)
	switch {
	case errors.As(err, &badReq):
		code, msg = http.StatusBadRequest, badReq.msg
	case errors.As(err, &invalid):
		code, msg, field = http.StatusUnprocessableEntity, invalid.Reason, invalid.Field
	case errors.Is(err, pricing.ErrInvalidRequest):
		code, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, checkout.ErrDraftNotFound):
		code, msg = http.StatusNotFound, "checkout draft not found"
	case errors.Is(err, topup.ErrInvalidPayment):
		code, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, errBadSignature):
		code, msg = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, auth.ErrForbidden):
		code, msg = http.StatusForbidden, "forbidden"
	case errors.Is(err, errUnknownProvider):
		code, msg = http.StatusNotFound, err.Error()
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(code)
	e.FieldStart("message")
	e.Str(msg)
	if field != "" {
		e.FieldStart("field")
		e.Str(field)
	}
	e.ObjEnd()
	writeJSON(w, code, &e)
}
