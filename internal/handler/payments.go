package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// ConfirmPayment handles a signed provider callback. Duplicate callbacks are
// acknowledged with 200 and "duplicate": true.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	secret, ok := h.secrets[provider]
	if !ok {
		writeErr(w, r, errUnknownProvider)
		return
	}
	body, err := h.readBody(w, r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := verifySignature(secret, body, r.Header.Get(SignatureHeader)); err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := decodePayment(provider, body)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	res, err := h.topups.Confirm(r.Context(), p)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("duplicate")
	e.Bool(res.Duplicate)
	encodeMoney(&e, "balance", res.Balance)
	e.FieldStart("resumed")
	e.Bool(res.Resumed != nil)
	if res.Resumed != nil {
		e.FieldStart("token")
		e.Str(res.Resumed.Token)
	}
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}
