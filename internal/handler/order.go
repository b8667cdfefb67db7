package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/cardshop/internal/domain/order"
)

// ListOrders returns orders newest first: ?status=&limit=&offset=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f order.Filter
	if s := q.Get("status"); s != "" {
		status, ok := order.ParseStatus(s)
		if !ok {
			writeError(w, r, &inputError{field: "status", reason: "is not a known order status"})
			return
		}
		f.Status = status
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	orders, err := h.orders.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("orders")
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// GetOrder returns one order with its items.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("reference"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

// UpdateOrderStatus moves an order to a new status: {status}.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	in, err := readInput(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, ok := order.ParseStatus(in.str("status"))
	if !ok {
		writeError(w, r, &inputError{field: "status", reason: "is not a known order status"})
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), r.PathValue("reference"), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("success")
		e.Bool(true)
		e.FieldStart("message")
		e.Str("Order " + o.Reference + " is now " + string(o.Status) + ".")
		e.FieldStart("order")
		encodeOrder(e, o)
		e.ObjEnd()
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("reference")
	e.Str(o.Reference)
	e.FieldStart("paypal_order_id")
	e.Str(o.PayPalOrderID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("payment_status")
	e.Str(string(o.PaymentStatus))

	e.FieldStart("customer")
	e.ObjStart()
	e.FieldStart("name")
	e.Str(o.Customer.Name)
	e.FieldStart("email")
	e.Str(o.Customer.Email)
	e.FieldStart("phone")
	e.Str(o.Customer.Phone)
	e.ObjEnd()

	a := o.ShippingAddress
	e.FieldStart("shipping_address")
	e.ObjStart()
	e.FieldStart("line1")
	e.Str(a.Line1)
	e.FieldStart("line2")
	e.Str(a.Line2)
	e.FieldStart("city")
	e.Str(a.City)
	e.FieldStart("state")
	e.Str(a.State)
	e.FieldStart("postal_code")
	e.Str(a.PostalCode)
	e.FieldStart("country")
	e.Str(a.Country)
	e.ObjEnd()

	e.FieldStart("shipping_method")
	e.Str(o.ShippingMethod)
	e.FieldStart("coupon_code")
	e.Str(o.CouponCode)
	e.FieldStart("totals")
	encodeTotals(e, o.Totals)

	if o.Items != nil {
		e.FieldStart("items")
		e.ArrStart()
		for _, it := range o.Items {
			e.ObjStart()
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
			encodeMoney(e, it.LineTotal)
			encodeOptions(e, it.Options)
			e.ObjEnd()
		}
		e.ArrEnd()
	}

	e.FieldStart("created_at")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.FieldStart("updated_at")
	e.Str(o.UpdatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}
