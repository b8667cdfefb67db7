package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/cardshop/internal/domain/analytics"
)

// Track records a storefront page view: {page, referrer, time_on_site}.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	_, sid := h.session(w, r)
	in, err := readInput(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	timeOnSite, err := in.int("time_on_site", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := h.tracker.Track(r.Context(), analytics.Hit{
		SessionID:  sid,
		IP:         h.clientIP(r),
		Page:       in.str("page"),
		Referrer:   in.str("referrer"),
		UserAgent:  r.UserAgent(),
		TimeOnSite: timeOnSite,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("success")
		e.Bool(true)
		e.FieldStart("new_visit")
		e.Bool(created)
		e.ObjEnd()
	})
}

// TrackClick records an outbound marketplace click: {url}.
func (h *Handler) TrackClick(w http.ResponseWriter, r *http.Request) {
	in, err := readInput(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.tracker.Click(r.Context(), r.PathValue("partner"), h.clientIP(r), in.str("url")); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, true, "")
}

// Subscribe adds a newsletter subscriber: {email}.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	in, err := readInput(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := h.tracker.Subscribe(r.Context(), in.str("email"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	msg := "Thanks for subscribing!"
	if !created {
		msg = "You are already subscribed."
	}
	writeMessage(w, http.StatusOK, true, msg)
}
