package server

import (
	"context"
	"net/http"

	"github.com/desertthunder/crate/internal/models"
)

// SessionRefresher re-checks the session in response to a focus event.
// [session.FocusWatcher] implements it.
type SessionRefresher interface {
	Notify(ctx context.Context) bool
}

// SessionHandler serves the session snapshot and accepts focus-triggered refreshes.
type SessionHandler struct {
	sessions SessionSource
	focus    SessionRefresher
}

// NewSessionHandler creates a handler over sessions. focus may be nil to disable refreshes.
func NewSessionHandler(sessions SessionSource, focus SessionRefresher) *SessionHandler {
	return &SessionHandler{sessions: sessions, focus: focus}
}

// Routes returns the HTTP routes this handler serves.
func (h *SessionHandler) Routes() []string {
	return []string{"/session", "/session/refresh"}
}

type sessionView struct {
	Status      string           `json:"status"`
	Initialized bool             `json:"initialized"`
	Identity    *models.Identity `json:"identity,omitempty"`
	Error       string           `json:"error,omitempty"`
	Refreshed   *bool            `json:"refreshed,omitempty"`
}

func viewOf(s models.Session) sessionView {
	v := sessionView{Status: s.Status.String(), Initialized: s.Initialized, Identity: s.Identity}
	if s.Err != nil {
		v.Error = s.Err.Error()
	}
	return v
}

func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/session" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, viewOf(h.sessions.State()))
	case r.URL.Path == "/session/refresh" && r.Method == http.MethodPost:
		refreshed := false
		if h.focus != nil {
			refreshed = h.focus.Notify(r.Context())
		}
		v := viewOf(h.sessions.State())
		v.Refreshed = &refreshed
		writeJSON(w, http.StatusOK, v)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
