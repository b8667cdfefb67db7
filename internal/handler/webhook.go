package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/cardshop/internal/domain/payment"
)

// PayPalWebhook applies a PayPal event. Unknown event types and unknown
// orders are acknowledged with 200 so PayPal stops redelivering.
func (h *Handler) PayPalWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, r, errors.Wrap(err, "read webhook body"))
		return
	}

	out, err := h.webhooks.Handle(r.Context(), body)
	if err != nil {
		if errors.Is(err, payment.ErrMalformedEvent) {
			writeMessage(w, http.StatusBadRequest, false, "Malformed webhook event.")
			return
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("success")
		e.Bool(true)
		e.FieldStart("event_id")
		e.Str(out.Event.ID)
		e.FieldStart("ignored")
		e.Bool(out.Ignored)
		if out.Reference != "" {
			e.FieldStart("reference")
			e.Str(out.Reference)
		}
		e.ObjEnd()
	})
}
