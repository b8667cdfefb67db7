package analytics

import (
	"context"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/go-faster/errors"
)

const (
	maxFieldLen      = 512
	maxTimeOnSiteSec = 24 * 60 * 60
)

// ErrInvalidEmail is returned for a malformed newsletter address.
var ErrInvalidEmail = errors.New("invalid email address")

// ErrUnknownPartner is returned for a click on an unsupported marketplace.
var ErrUnknownPartner = errors.New("unknown partner")

// Hit is one storefront page view.
type Hit struct {
	SessionID  string
	IP         string
	Page       string
	Referrer   string
	UserAgent  string
	TimeOnSite int
}

// Click is one outbound partner link click.
type Click struct {
	Partner Partner
	IP      string
	URL     string
}

// VisitRecorder persists traffic events.
type VisitRecorder interface {
	// RecordHit inserts a visit for the first hit of a session and updates
	// it for later hits. It reports whether a new visit was created.
	RecordHit(ctx context.Context, h Hit) (bool, error)
	RecordClick(ctx context.Context, c Click) error
	// Subscribe upserts a newsletter address and reports whether it is new.
	Subscribe(ctx context.Context, email string) (bool, error)
}

// Tracker validates and records storefront traffic.
type Tracker struct {
	store VisitRecorder
}

// NewTracker creates a Tracker.
func NewTracker(store VisitRecorder) *Tracker {
	return &Tracker{store: store}
}

// clip drops invalid UTF-8, which TEXT columns reject, and cuts s to
// maxFieldLen bytes on a rune boundary.
func clip(s string) string {
	s = strings.TrimSpace(strings.ToValidUTF8(s, ""))
	if len(s) <= maxFieldLen {
		return s
	}
	n := maxFieldLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Track records a page view.
func (t *Tracker) Track(ctx context.Context, h Hit) (bool, error) {
	if h.SessionID == "" {
		return false, errors.New("session id is required")
	}
	h.Page = clip(h.Page)
	if h.Page == "" {
		h.Page = "/"
	}
	h.Referrer = clip(h.Referrer)
	h.UserAgent = clip(h.UserAgent)
	h.TimeOnSite = min(max(h.TimeOnSite, 0), maxTimeOnSiteSec)

	created, err := t.store.RecordHit(ctx, h)
	if err != nil {
		return false, errors.Wrap(err, "record hit")
	}
	return created, nil
}

// Click records an outbound partner click.
func (t *Tracker) Click(ctx context.Context, partner, ip, target string) error {
	p, ok := ParsePartner(partner)
	if !ok {
		return errors.Wrapf(ErrUnknownPartner, "%q", partner)
	}
	if err := t.store.RecordClick(ctx, Click{Partner: p, IP: ip, URL: clip(target)}); err != nil {
		return errors.Wrap(err, "record click")
	}
	return nil
}

// Subscribe adds a newsletter subscriber.
func (t *Tracker) Subscribe(ctx context.Context, email string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false, ErrInvalidEmail
	}
	created, err := t.store.Subscribe(ctx, email)
	if err != nil {
		return false, errors.Wrap(err, "subscribe")
	}
	return created, nil
}
