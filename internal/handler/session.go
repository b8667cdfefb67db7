package handler

import (
	"net/http"
	"net/url"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

const (
	sessionIDKey   = "sid"
	cartFlashKey   = "cart"
	sessionMaxAge  = 30 * 24 * 60 * 60
	defaultSession = "cardshop_session"
)

// NewCookieStore returns the storefront session store. The key signs and
// encrypts the cookie.
func NewCookieStore(key []byte, secure bool) *sessions.CookieStore {
	hashKey, blockKey := key, []byte(nil)
	if len(key) >= 64 {
		hashKey, blockKey = key[:32], key[32:64]
	}
	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   sessionMaxAge,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// session returns the visitor's session and its id, issuing a new id on the
// first request. An undecodable cookie starts a fresh session.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*sessions.Session, string) {
	s, err := h.sessions.Get(r, h.sessionName)
	if err != nil {
		zctx.From(r.Context()).Debug("Discarding session cookie", zap.Error(err))
	}

	sid, _ := s.Values[sessionIDKey].(string)
	if sid != "" {
		return s, sid
	}

	sid = uuid.NewString()
	s.Values[sessionIDKey] = sid
	h.saveSession(w, r, s)
	return s, sid
}

func (h *Handler) saveSession(w http.ResponseWriter, r *http.Request, s *sessions.Session) {
	if err := s.Save(r, w); err != nil {
		zctx.From(r.Context()).Warn("Save session", zap.Error(err))
	}
}

// flash stores a one-shot message shown on the next page render.
func (h *Handler) flash(w http.ResponseWriter, r *http.Request, s *sessions.Session, msg string) {
	s.AddFlash(msg, cartFlashKey)
	h.saveSession(w, r, s)
}

// takeFlashes returns and clears pending flash messages.
func (h *Handler) takeFlashes(w http.ResponseWriter, r *http.Request, s *sessions.Session) []string {
	raw := s.Flashes(cartFlashKey)
	if len(raw) == 0 {
		return nil
	}
	h.saveSession(w, r, s)

	out := make([]string, 0, len(raw))
	for _, f := range raw {
		if msg, ok := f.(string); ok {
			out = append(out, msg)
		}
	}
	return out
}

// redirectBack answers a form post with a 303 to the referring page of this
// site, or /cart.
func redirectBack(w http.ResponseWriter, r *http.Request) {
	target := "/cart"
	if ref, err := url.Parse(r.Referer()); err == nil && ref.Path != "" && (ref.Host == "" || ref.Host == r.Host) {
		target = ref.RequestURI()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
