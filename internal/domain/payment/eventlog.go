package payment

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventLog records every webhook delivery before it is processed.
type EventLog interface {
	Append(ev *Event)
	// Reject records a delivery whose body is not a PayPal event.
	Reject(body []byte, err error)
}

// maxRejectedBody bounds the raw body kept for a rejected delivery.
const maxRejectedBody = 64 << 10

// FileLog appends one JSON line per webhook event to a file.
type FileLog struct {
	lg   *zap.Logger
	file *os.File
}

var _ EventLog = (*FileLog)(nil)

// OpenFileLog opens (or creates) the event log at path.
func OpenFileLog(path string) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Wrap(err, "create log dir")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, errors.Wrap(err, "open webhook log")
	}

	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.Lock(f), zapcore.InfoLevel)

	return &FileLog{lg: zap.New(core), file: f}, nil
}

// Append writes the event with its raw resource payload.
func (l *FileLog) Append(ev *Event) {
	l.lg.Info("webhook",
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type),
		zap.String("paypal_order_id", ev.OrderID()),
		zap.Reflect("resource", json.RawMessage(ev.Resource)),
	)
}

// Reject writes the raw body of a delivery that could not be parsed.
func (l *FileLog) Reject(body []byte, err error) {
	truncated := len(body) > maxRejectedBody
	if truncated {
		body = body[:maxRejectedBody]
	}
	l.lg.Info("webhook rejected",
		zap.Error(err),
		zap.ByteString("body", body),
		zap.Bool("truncated", truncated),
	)
}

// Close flushes and closes the underlying file.
func (l *FileLog) Close() error {
	_ = l.lg.Sync()
	return l.file.Close()
}
