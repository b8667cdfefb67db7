package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/cardshop/internal/domain/coupon"
)

// ListCoupons returns every coupon.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	rules, err := h.coupons.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("coupons")
		e.ArrStart()
		for i := range rules {
			encodeRule(e, &rules[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// CreateCoupon issues a coupon: {code, description, discount_type, value,
// min_purchase, max_uses, start_date, end_date, active}.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	in, err := readInput(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rule, err := ruleFromInput(in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.coupons.Create(r.Context(), rule); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("success")
		e.Bool(true)
		e.FieldStart("coupon")
		encodeRule(e, rule)
		e.ObjEnd()
	})
}

// DeactivateCoupon turns a coupon off.
func (h *Handler) DeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if err := h.coupons.Deactivate(r.Context(), code); err != nil {
		var invalid *coupon.InvalidError
		if errors.As(err, &invalid) && invalid.Reason == coupon.ReasonNotFound {
			writeMessage(w, http.StatusNotFound, false, "Coupon not found.")
			return
		}
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, true, "Coupon "+coupon.NormalizeCode(code)+" deactivated.")
}

func ruleFromInput(in *input) (*coupon.Rule, error) {
	rule := &coupon.Rule{
		Code:         in.str("code"),
		Description:  in.str("description"),
		DiscountType: coupon.DiscountType(in.str("discount_type")),
	}

	var err error
	if rule.Value, err = in.decimal("value"); err != nil {
		return nil, err
	}
	if rule.MinPurchase, err = in.decimal("min_purchase"); err != nil {
		return nil, err
	}
	if rule.MaxUses, err = in.int("max_uses", 0); err != nil {
		return nil, err
	}
	if rule.Active, err = in.bool("active", true); err != nil {
		return nil, err
	}
	if rule.StartDate, err = parseDate(in, "start_date"); err != nil {
		return nil, err
	}
	if rule.EndDate, err = parseDate(in, "end_date"); err != nil {
		return nil, err
	}
	return rule, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339.
func parseDate(in *input, name string) (*time.Time, error) {
	v := in.str(name)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, &inputError{field: name, reason: "must be a date (YYYY-MM-DD)"}
}

func encodeRule(e *jx.Encoder, c *coupon.Rule) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(c.ID)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("description")
	e.Str(c.Description)
	e.FieldStart("discount_type")
	e.Str(string(c.DiscountType))
	e.FieldStart("value")
	encodeMoney(e, c.Value)
	e.FieldStart("min_purchase")
	encodeMoney(e, c.MinPurchase)
	e.FieldStart("max_uses")
	e.Int(c.MaxUses)
	e.FieldStart("uses_count")
	e.Int(c.UsesCount)
	e.FieldStart("start_date")
	encodeOptionalTime(e, c.StartDate)
	e.FieldStart("end_date")
	encodeOptionalTime(e, c.EndDate)
	e.FieldStart("active")
	e.Bool(c.Active)
	e.ObjEnd()
}

func encodeOptionalTime(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(time.RFC3339))
}
