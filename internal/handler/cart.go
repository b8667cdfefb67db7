package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/cardshop/internal/domain/cart"
	"github.com/xenking/cardshop/internal/domain/coupon"
)

// cartReply renders a cart mutation: JSON callers get the cart envelope,
// form callers are redirected back with a flash message.
func (h *Handler) cartReply(w http.ResponseWriter, r *http.Request, v *cart.View, msg string, err error) {
	if !wantsJSON(r) {
		s, _ := h.session(w, r)
		if err != nil {
			_, msg = errorStatus(err)
		}
		h.flash(w, r, s, msg)
		redirectBack(w, r)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeCartEnvelope(e, v, msg, nil)
	})
}

// GetCart returns the session's cart and any pending flash messages.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	s, sid := h.session(w, r)
	v, err := h.carts.Get(r.Context(), sid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	flashes := h.takeFlashes(w, r, s)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeCartEnvelope(e, v, "", flashes)
	})
}

// AddCartItem adds a product: {product_id, quantity, options}.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	_, sid := h.session(w, r)
	in, err := readInput(r)
	if err != nil {
		h.cartReply(w, r, nil, "", err)
		return
	}
	productID := in.str("product_id")
	if productID == "" {
		h.cartReply(w, r, nil, "", &inputError{field: "product_id", reason: "is required"})
		return
	}
	quantity, err := in.int("quantity", 1)
	if err != nil {
		h.cartReply(w, r, nil, "", err)
		return
	}

	var options map[string]string
	if len(in.options) > 0 {
		options = in.options
	}
	v, err := h.carts.AddItem(r.Context(), sid, productID, quantity, options)
	h.cartReply(w, r, v, "Item added to your cart.", err)
}

// UpdateCartItem sets a line's quantity: {quantity}. Zero removes the line.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	_, sid := h.session(w, r)
	in, err := readInput(r)
	if err != nil {
		h.cartReply(w, r, nil, "", err)
		return
	}
	if !in.has("quantity") {
		h.cartReply(w, r, nil, "", &inputError{field: "quantity", reason: "is required"})
		return
	}
	quantity, err := in.int("quantity", 0)
	if err != nil {
		h.cartReply(w, r, nil, "", err)
		return
	}

	v, err := h.carts.UpdateItem(r.Context(), sid, r.PathValue("id"), quantity)
	msg := "Cart updated."
	if quantity <= 0 {
		msg = "Item removed from your cart."
	}
	h.cartReply(w, r, v, msg, err)
}

// RemoveCartItem deletes a line.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	_, sid := h.session(w, r)
	v, err := h.carts.RemoveItem(r.Context(), sid, r.PathValue("id"))
	h.cartReply(w, r, v, "Item removed from your cart.", err)
}

// SetShipping selects a shipping method: {shipping_method}.
func (h *Handler) SetShipping(w http.ResponseWriter, r *http.Request) {
	_, sid := h.session(w, r)
	in, err := readInput(r)
	if err != nil {
		h.cartReply(w, r, nil, "", err)
		return
	}
	v, err := h.carts.SetShipping(r.Context(), sid, in.str("shipping_method"))
	h.cartReply(w, r, v, "Shipping method updated.", err)
}

// ApplyCoupon validates and attaches a coupon: {code}.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	_, sid := h.session(w, r)
	in, err := readInput(r)
	if err != nil {
		h.cartReply(w, r, nil, "", err)
		return
	}
	code := in.str("code")
	if code == "" {
		code = in.str("coupon_code")
	}
	if code == "" {
		h.cartReply(w, r, nil, "", &inputError{field: "code", reason: "is required"})
		return
	}

	v, applied, err := h.carts.ApplyCoupon(r.Context(), sid, code)
	msg := ""
	if applied != nil {
		msg = "Coupon " + applied.Code + " applied. You save $" + applied.Amount.StringFixed(2) + "."
	}
	h.cartReply(w, r, v, msg, err)
}

// RemoveCoupon detaches the applied coupon.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	_, sid := h.session(w, r)
	v, err := h.carts.RemoveCoupon(r.Context(), sid)
	h.cartReply(w, r, v, "Coupon removed.", err)
}

func encodeCartEnvelope(e *jx.Encoder, v *cart.View, msg string, flashes []string) {
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	e.FieldStart("message")
	e.Str(msg)
	if len(flashes) > 0 {
		e.FieldStart("flashes")
		e.ArrStart()
		for _, f := range flashes {
			e.Str(f)
		}
		e.ArrEnd()
	}
	e.FieldStart("cart_count")
	e.Int(v.Count)
	e.FieldStart("cart")
	encodeCart(e, v)
	e.ObjEnd()
}

func encodeCart(e *jx.Encoder, v *cart.View) {
	c := v.Cart
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range c.Items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.ProductID)
		e.FieldStart("product_id")
		e.Str(it.ProductID)
		e.FieldStart("sku")
		e.Str(it.SKU)
		e.FieldStart("title")
		e.Str(it.Title)
		e.FieldStart("unit_price")
		encodeMoney(e, it.UnitPrice)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("line_total")
		encodeMoney(e, it.LineTotal())
		encodeOptions(e, it.Options)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("shipping_method")
	e.Str(c.ShippingMethod)
	e.FieldStart("coupon")
	encodeApplied(e, c.Coupon)
	e.FieldStart("totals")
	encodeTotals(e, v.Totals)
	e.ObjEnd()
}

func encodeOptions(e *jx.Encoder, options map[string]string) {
	e.FieldStart("options")
	e.ObjStart()
	for _, k := range sortedKeys(options) {
		e.FieldStart(k)
		e.Str(options[k])
	}
	e.ObjEnd()
}

func encodeApplied(e *jx.Encoder, a *coupon.Applied) {
	if a == nil {
		e.Null()
		return
	}
	e.ObjStart()
	e.FieldStart("code")
	e.Str(a.Code)
	e.FieldStart("discount_type")
	e.Str(string(a.DiscountType))
	e.FieldStart("value")
	encodeMoney(e, a.Value)
	e.FieldStart("amount")
	encodeMoney(e, a.Amount)
	e.FieldStart("description")
	e.Str(coupon.Describe(a.DiscountType, a.Value))
	e.ObjEnd()
}

func encodeTotals(e *jx.Encoder, t cart.Totals) {
	e.ObjStart()
	e.FieldStart("subtotal")
	encodeMoney(e, t.Subtotal)
	e.FieldStart("discount")
	encodeMoney(e, t.Discount)
	e.FieldStart("shipping")
	encodeMoney(e, t.Shipping)
	e.FieldStart("tax")
	encodeMoney(e, t.Tax)
	e.FieldStart("total")
	encodeMoney(e, t.Total)
	e.ObjEnd()
}
