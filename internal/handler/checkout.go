package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// Quote prices the selections and stores them as the user's draft.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	req, err := h.checkoutRequest(w, r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	d, err := h.checkout.Quote(r.Context(), req.UserID, req.Selections)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var e jx.Encoder
	encodeDraft(&e, d)
	writeJSON(w, http.StatusOK, &e)
}

// Charge pays the draft identified by token. Every outcome, including
// insufficient funds and stale quotes, is a 200 response.
func (h *Handler) Charge(w http.ResponseWriter, r *http.Request) {
	req, err := h.checkoutRequest(w, r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if req.Token == "" {
		writeErr(w, r, badRequest("token is required"))
		return
	}
	res, err := h.checkout.Charge(r.Context(), req.UserID, req.Token)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var e jx.Encoder
	encodeChargeResult(&e, res)
	writeJSON(w, http.StatusOK, &e)
}

// Cancel drops the user's draft.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	req, err := h.checkoutRequest(w, r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := h.checkout.Cancel(r.Context(), req.UserID); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resume re-quotes the user's draft.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	req, err := h.checkoutRequest(w, r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	d, err := h.checkout.Resume(r.Context(), req.UserID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var e jx.Encoder
	encodeDraft(&e, d)
	writeJSON(w, http.StatusOK, &e)
}

// HasDraft reports whether the user has a resumable draft.
func (h *Handler) HasDraft(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	has, err := h.checkout.HasDraft(r.Context(), userID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("has_draft")
	e.Bool(has)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) checkoutRequest(w http.ResponseWriter, r *http.Request) (checkoutRequest, error) {
	body, err := h.readBody(w, r)
	if err != nil {
		return checkoutRequest{}, err
	}
	return decodeCheckoutRequest(body)
}
