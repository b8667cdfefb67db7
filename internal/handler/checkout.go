package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/cardshop/internal/domain/order"
)

// CheckoutConfig returns what the PayPal button needs: the public client id,
// currency and environment, plus the shipping methods and tax rate.
func (h *Handler) CheckoutConfig(w http.ResponseWriter, r *http.Request) {
	s := h.carts.Settings()
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("paypal_enabled")
		e.Bool(s.PayPal.Enabled())
		e.FieldStart("client_id")
		e.Str(s.PayPal.ClientID)
		e.FieldStart("currency")
		e.Str(s.PayPal.Currency)
		e.FieldStart("mode")
		e.Str(string(s.PayPal.Mode))
		e.FieldStart("tax_rate")
		e.Raw([]byte(s.TaxRate.String()))
		e.FieldStart("shipping_methods")
		e.ArrStart()
		for _, m := range s.ShippingMethods() {
			e.ObjStart()
			e.FieldStart("name")
			e.Str(m.Name)
			e.FieldStart("label")
			e.Str(m.Label)
			e.FieldStart("rate")
			encodeMoney(e, m.Rate)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// Checkout captures the approved PayPal order and places the order for the
// session's cart.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	_, sid := h.session(w, r)
	in, err := readInput(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.orders.Checkout(r.Context(), sid, order.CheckoutRequest{
		PayPalOrderID: in.str("paypal_order_id"),
		Customer: order.Customer{
			Name:  in.str("name"),
			Email: in.str("email"),
			Phone: in.str("phone"),
		},
		Address: order.Address{
			Line1:      in.str("address_line1"),
			Line2:      in.str("address_line2"),
			City:       in.str("city"),
			State:      in.str("state"),
			PostalCode: in.str("postal_code"),
			Country:    in.str("country"),
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("success")
		e.Bool(true)
		e.FieldStart("message")
		e.Str("Thank you! Your order " + res.Order.Reference + " has been placed.")
		e.FieldStart("cart_count")
		e.Int(0)
		e.FieldStart("order")
		encodeOrder(e, res.Order)
		e.ObjEnd()
	})
}
