package handler

import (
	"io"
	"maps"
	"math"
	"mime"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

// wantsJSON reports whether the caller expects a JSON answer rather than a
// redirect: JSON bodies, XHR requests and clients accepting JSON.
func wantsJSON(r *http.Request) bool {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && mt == "application/json" {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeMessage(w http.ResponseWriter, status int, success bool, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("success")
		e.Bool(success)
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}

// writeError maps err to a status and customer-facing message. Unexpected
// errors are logged and hidden behind a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeMessage(w, status, false, msg)
}

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}

// input holds flat request fields from either a JSON object or a form.
// Nested "options" objects (or options[key] form fields) land in options.
type input struct {
	fields  map[string]string
	options map[string]string
}

func (in *input) str(name string) string {
	return strings.TrimSpace(in.fields[name])
}

func (in *input) has(name string) bool {
	_, ok := in.fields[name]
	return ok
}

func (in *input) int(name string, def int) (int, error) {
	v := in.str(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, &inputError{field: name, reason: "is out of range"}
		}
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil || f != math.Trunc(f) {
			return 0, &inputError{field: name, reason: "must be an integer"}
		}
		if f > math.MaxInt32 || f < math.MinInt32 {
			return 0, &inputError{field: name, reason: "is out of range"}
		}
		return int(f), nil
	}
	return int(n), nil
}

func (in *input) bool(name string, def bool) (bool, error) {
	v := in.str(name)
	if v == "" {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &inputError{field: name, reason: "must be a boolean"}
	}
	return b, nil
}

func (in *input) decimal(name string) (decimal.Decimal, error) {
	v := in.str(name)
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, &inputError{field: name, reason: "must be a number"}
	}
	return d, nil
}

// inputError reports a malformed request field.
type inputError struct {
	field  string
	reason string
}

func (e *inputError) Error() string {
	if e.field == "" {
		return e.reason
	}
	return e.field + " " + e.reason
}

// readInput parses the request body. Empty bodies yield no fields.
func readInput(r *http.Request) (*input, error) {
	in := &input{fields: map[string]string{}, options: map[string]string{}}

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "application/json" {
		if err := r.ParseForm(); err != nil {
			return nil, &inputError{reason: "malformed form body"}
		}
		for key, values := range r.PostForm {
			if len(values) == 0 {
				continue
			}
			if name, ok := strings.CutPrefix(key, "options["); ok && strings.HasSuffix(name, "]") {
				in.options[strings.TrimSuffix(name, "]")] = values[0]
				continue
			}
			in.fields[key] = values[0]
		}
		return in, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return in, nil
	}

	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return nil, &inputError{reason: "request body must be a JSON object"}
	}
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		name := string(key)
		if name == "options" && d.Next() == jx.Object {
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				v, err := scalar(d)
				if err != nil {
					return err
				}
				in.options[string(key)] = v
				return nil
			})
		}
		v, err := scalar(d)
		if err != nil {
			return err
		}
		in.fields[name] = v
		return nil
	}); err != nil {
		return nil, &inputError{reason: "malformed JSON body"}
	}
	return in, nil
}

// scalar reads a JSON scalar as text; null and nested values are skipped.
func scalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Bool:
		b, err := d.Bool()
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	default:
		return "", d.Skip()
	}
}
