package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/vpn-checkout/internal/domain/checkout"
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
	"github.com/xenking/vpn-checkout/internal/domain/subscription"
	"github.com/xenking/vpn-checkout/internal/domain/topup"
)

// badRequestError is a malformed request.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: errors.Errorf(format, args...).Error()}
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, badRequest("body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}

// checkoutRequest is the body of every POST /api/checkout/* call.
type checkoutRequest struct {
	UserID     int64
	Token      string
	Selections checkout.Selections
}

func decodeCheckoutRequest(data []byte) (checkoutRequest, error) {
	var req checkoutRequest
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "user_id":
			req.UserID, err = d.Int64()
		case "token":
			req.Token, err = d.Str()
		case "selections":
			err = decodeSelections(d, &req.Selections)
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return req, badRequest("invalid JSON: %v", err)
	}
	if req.UserID <= 0 {
		return req, badRequest("user_id is required")
	}
	return req, nil
}

func decodeSelections(d *jx.Decoder, sel *checkout.Selections) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "flow":
			var flow string
			flow, err = d.Str()
			sel.Flow = pricing.Flow(flow)
		case "period_days":
			sel.PeriodDays, err = d.Int()
		case "traffic_gb":
			sel.TrafficGB, err = d.Int()
		case "devices":
			sel.Devices, err = d.Int()
		case "server_ids":
			err = d.Arr(func(d *jx.Decoder) error {
				id, err := d.Str()
				sel.ServerIDs = append(sel.ServerIDs, id)
				return err
			})
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
}

// decodePayment parses a provider callback. amount is in rubles and may be a
// JSON number or a string.
func decodePayment(provider string, data []byte) (topup.Payment, error) {
	p := topup.Payment{Provider: provider}
	var amount, providerAmount decimal.Decimal
	var hasProviderAmount bool
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "external_id":
			p.ExternalID, err = d.Str()
		case "user_id":
			p.UserID, err = d.Int64()
		case "amount":
			amount, err = decodeDecimal(d)
		case "provider_amount":
			providerAmount, err = decodeDecimal(d)
			hasProviderAmount = true
		case "currency":
			p.Currency, err = d.Str()
		case "confirmed_at":
			var s string
			if s, err = d.Str(); err == nil {
				p.ConfirmedAt, err = time.Parse(time.RFC3339, s)
			}
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return p, badRequest("invalid JSON: %v", err)
	}
	p.Amount = pricing.FromDecimal(amount)
	p.ProviderAmount = amount
	if hasProviderAmount {
		p.ProviderAmount = providerAmount
	}
	return p, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(n.String())
}

func encodeTime(e *jx.Encoder, name string, t time.Time) {
	e.FieldStart(name)
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeMoney(e *jx.Encoder, name string, m pricing.Money) {
	e.FieldStart(name)
	e.Int64(int64(m))
}

func encodeSelections(e *jx.Encoder, s checkout.Selections) {
	e.ObjStart()
	e.FieldStart("flow")
	e.Str(string(s.Flow))
	e.FieldStart("period_days")
	e.Int(s.PeriodDays)
	e.FieldStart("traffic_gb")
	e.Int(s.TrafficGB)
	e.FieldStart("devices")
	e.Int(s.Devices)
	e.FieldStart("server_ids")
	e.ArrStart()
	for _, id := range s.ServerIDs {
		e.Str(id)
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeQuote(e *jx.Encoder, q pricing.Quote) {
	e.ObjStart()
	e.FieldStart("flow")
	e.Str(string(q.Flow))
	if q.PeriodDays > 0 {
		e.FieldStart("period_days")
		e.Int(q.PeriodDays)
	}
	e.FieldStart("components")
	e.ArrStart()
	for _, c := range q.Components {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(c.Name)
		e.FieldStart("category")
		e.Str(string(c.Category))
		encodeMoney(e, "monthly_unit_price", c.MonthlyUnitPrice)
		e.FieldStart("discount_percent")
		e.Int(c.DiscountPercent)
		encodeMoney(e, "discounted_monthly_price", c.DiscountedMonthlyPrice)
		e.FieldStart("months")
		e.Int(c.Months)
		encodeMoney(e, "total_price", c.TotalPrice)
		encodeMoney(e, "discount_total", c.DiscountTotal)
		e.ObjEnd()
	}
	e.ArrEnd()
	encodeMoney(e, "subtotal", q.Subtotal)
	e.FieldStart("promo_offer_percent")
	e.Int(q.PromoOfferPercent)
	encodeMoney(e, "promo_offer_discount", q.PromoOfferDiscount)
	encodeMoney(e, "discount_total", q.DiscountTotal())
	encodeMoney(e, "final_price", q.FinalPrice)
	e.FieldStart("final_price_display")
	e.Str(q.FinalPrice.String())
	encodeTime(e, "computed_at", q.ComputedAt)
	e.ObjEnd()
}

func encodeDraft(e *jx.Encoder, d *checkout.Draft) {
	e.ObjStart()
	e.FieldStart("user_id")
	e.Int64(d.UserID)
	e.FieldStart("token")
	e.Str(d.Token)
	e.FieldStart("selections")
	encodeSelections(e, d.Selections)
	e.FieldStart("quote")
	encodeQuote(e, d.Quote)
	encodeTime(e, "created_at", d.CreatedAt)
	encodeTime(e, "expires_at", d.ExpiresAt)
	e.ObjEnd()
}

func encodeSubscription(e *jx.Encoder, s *subscription.Subscription) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(s.ID)
	e.FieldStart("status")
	e.Str(string(s.Status))
	e.FieldStart("is_trial")
	e.Bool(s.IsTrial)
	encodeTime(e, "end_date", s.EndDate)
	e.FieldStart("traffic_limit_gb")
	e.Int(s.TrafficLimitGB)
	e.FieldStart("device_limit")
	e.Int(s.DeviceLimit)
	e.FieldStart("connected_servers")
	e.ArrStart()
	for _, id := range s.ConnectedServers {
		e.Str(id)
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeChargeResult(e *jx.Encoder, res checkout.ChargeResult) {
	e.ObjStart()
	e.FieldStart("outcome")
	e.Str(string(res.Outcome))
	switch res.Outcome {
	case checkout.OutcomeCharged:
		e.FieldStart("transaction_id")
		e.Int64(res.TransactionID)
		encodeMoney(e, "charged", res.Charged)
		if res.Subscription != nil {
			e.FieldStart("subscription")
			encodeSubscription(e, res.Subscription)
		}
	case checkout.OutcomeInsufficientFunds:
		encodeMoney(e, "missing_amount", res.MissingAmount)
		encodeMoney(e, "balance", res.Balance)
	case checkout.OutcomeStaleQuote:
		if res.Stale != nil {
			e.FieldStart("stale")
			e.ObjStart()
			e.FieldStart("field")
			e.Str(res.Stale.Field)
			e.FieldStart("shown")
			e.Str(res.Stale.Shown)
			e.FieldStart("recomputed")
			e.Str(res.Stale.Recomputed)
			e.ObjEnd()
		}
		if res.Recomputed != nil {
			e.FieldStart("recomputed")
			encodeQuote(e, *res.Recomputed)
		}
	}
	e.ObjEnd()
}

func writeJSON(w http.ResponseWriter, code int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func parseUserID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("user_id query parameter is required")
	}
	return id, nil
}
