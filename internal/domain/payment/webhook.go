package payment

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cardshop/internal/domain/order"
)

// Webhook event types handled by Processor.
const (
	EventOrderApproved   = "CHECKOUT.ORDER.APPROVED"
	EventCaptureComplete = "PAYMENT.CAPTURE.COMPLETED"
	EventCaptureRefunded = "PAYMENT.CAPTURE.REFUNDED"
)

// TransmissionIDHeader identifies a single webhook delivery attempt.
const TransmissionIDHeader = "Paypal-Transmission-Id"

// ErrMalformedEvent is returned for a webhook body that is not a PayPal event.
var ErrMalformedEvent = errors.New("malformed webhook event")

// Event is a PayPal webhook notification.
type Event struct {
	ID       string
	Type     string
	Resource jx.Raw
}

// ParseEvent decodes the envelope of a webhook notification.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return nil, ErrMalformedEvent
	}
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			v, err := d.Str()
			ev.ID = v
			return err
		case "event_type":
			v, err := d.Str()
			ev.Type = v
			return err
		case "resource":
			raw, err := d.Raw()
			ev.Resource = slices.Clone(raw)
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(ErrMalformedEvent, err.Error())
	}
	if ev.Type == "" {
		return nil, errors.Wrap(ErrMalformedEvent, "missing event_type")
	}
	return &ev, nil
}

// OrderID returns the PayPal order id the event refers to. Order events carry
// it as resource.id; capture events reference it through supplementary data.
func (e *Event) OrderID() string {
	if len(e.Resource) == 0 {
		return ""
	}
	if e.Type == EventOrderApproved {
		return lookup(e.Resource, "id")
	}
	return lookup(e.Resource, "supplementary_data", "related_ids", "order_id")
}

func lookup(raw []byte, path ...string) string {
	var out string
	d := jx.DecodeBytes(raw)
	if d.Next() != jx.Object {
		return ""
	}
	_ = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if out != "" || string(key) != path[0] {
			return d.Skip()
		}
		if len(path) == 1 {
			if d.Next() != jx.String {
				return d.Skip()
			}
			s, err := d.Str()
			out = s
			return err
		}
		nested, err := d.Raw()
		if err != nil {
			return err
		}
		out = lookup(nested, path[1:]...)
		return nil
	})
	return out
}

// PaymentUpdater applies payment state changes to stored orders.
type PaymentUpdater interface {
	UpdatePayment(ctx context.Context, paypalOrderID string, u order.PaymentUpdate) (string, bool, error)
}

// Outcome describes what a webhook delivery changed.
type Outcome struct {
	Event     *Event
	Reference string
	// Ignored is set for unknown event types, unknown orders and deliveries
	// older than the stored payment status.
	Ignored bool
}

// Processor reconciles orders with PayPal webhook notifications.
type Processor struct {
	orders PaymentUpdater
	log    EventLog
}

// NewProcessor creates a webhook Processor. log may be nil.
func NewProcessor(orders PaymentUpdater, log EventLog) *Processor {
	return &Processor{orders: orders, log: log}
}

func updateFor(eventType string) (order.PaymentUpdate, bool) {
	switch eventType {
	case EventOrderApproved:
		return order.PaymentUpdate{PaymentStatus: order.PaymentApproved}, true
	case EventCaptureComplete:
		return order.PaymentUpdate{
			PaymentStatus: order.PaymentCompleted,
			Status:        order.StatusProcessing,
			FromStatus:    order.StatusPending,
		}, true
	case EventCaptureRefunded:
		return order.PaymentUpdate{
			PaymentStatus: order.PaymentRefunded,
			Status:        order.StatusRefunded,
		}, true
	default:
		return order.PaymentUpdate{}, false
	}
}

// Handle records and applies one webhook delivery. Events for unknown types
// or orders are acknowledged without error so the provider stops retrying;
// only malformed bodies and storage failures are reported.
//
// Signatures are not verified.
func (p *Processor) Handle(ctx context.Context, body []byte) (*Outcome, error) {
	lg := zctx.From(ctx)

	ev, err := ParseEvent(body)
	if err != nil {
		if p.log != nil {
			p.log.Reject(body, err)
		}
		return nil, err
	}
	if p.log != nil {
		p.log.Append(ev)
	}

	lg = lg.With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type),
	)

	u, ok := updateFor(ev.Type)
	if !ok {
		lg.Info("Ignoring webhook event type")
		return &Outcome{Event: ev, Ignored: true}, nil
	}

	paypalID := ev.OrderID()
	if paypalID == "" {
		lg.Warn("Webhook event without order id")
		return &Outcome{Event: ev, Ignored: true}, nil
	}

	ref, applied, err := p.orders.UpdatePayment(ctx, paypalID, u)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			lg.Warn("Webhook for unknown order", zap.String("paypal_order_id", paypalID))
			return &Outcome{Event: ev, Ignored: true}, nil
		}
		return nil, errors.Wrapf(err, "apply %s", ev.Type)
	}
	if !applied {
		lg.Info("Webhook older than stored payment status",
			zap.String("reference", ref),
			zap.String("payment_status", string(u.PaymentStatus)),
		)
		return &Outcome{Event: ev, Reference: ref, Ignored: true}, nil
	}

	lg.Info("Webhook applied",
		zap.String("reference", ref),
		zap.String("payment_status", string(u.PaymentStatus)),
	)
	return &Outcome{Event: ev, Reference: ref}, nil
}
