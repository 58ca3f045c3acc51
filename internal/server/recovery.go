package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sync"

	"github.com/desertthunder/crate/internal/shared"
)

// RecoveryResult is the outcome of a password-reset confirmation.
type RecoveryResult struct {
	err error
}

func (o *RecoveryResult) Error() error {
	return o.err
}

// RecoveryConfirmer completes a password reset. [session.Manager] implements it.
type RecoveryConfirmer interface {
	ConfirmRecovery(ctx context.Context, token, secret string) error
}

// RecoveryHandler serves the reset form and handles its submission.
// Implements the Handler interface for registration with a Router.
type RecoveryHandler struct {
	confirmer  RecoveryConfirmer
	resultChan chan RecoveryResult
	once       sync.Once
	submitted  bool
	mu         sync.Mutex
}

// NewRecoveryHandler creates a handler that confirms resets with confirmer.
func NewRecoveryHandler(confirmer RecoveryConfirmer) *RecoveryHandler {
	return &RecoveryHandler{
		confirmer:  confirmer,
		resultChan: make(chan RecoveryResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *RecoveryHandler) Routes() []string {
	return []string{"/recovery/confirm"}
}

var recoveryPage = template.Must(template.New("recovery").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
    <h1>{{.Title}}</h1>
    {{if .Message}}<p>{{.Message}}</p>{{end}}
    {{if .Form}}
    <form method="post" action="/recovery/confirm">
        <input type="hidden" name="token" value="{{.Token}}">
        <label>New password <input type="password" name="secret" required></label>
        <button type="submit">Reset password</button>
    </form>
    {{end}}
</body>
</html>
`))

type recoveryPageData struct {
	Title   string
	Message string
	Token   string
	Form    bool
}

// ServeHTTP renders the reset form on GET and confirms the reset on POST.
//
// Only the first POST is processed.
func (h *RecoveryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.render(w, http.StatusOK, recoveryPageData{
			Title: "Choose a new password",
			Token: r.URL.Query().Get("token"),
			Form:  true,
		})
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.mu.Lock()
	if h.submitted {
		h.mu.Unlock()
		http.Error(w, "Reset already processed", http.StatusBadRequest)
		return
	}
	h.submitted = true
	h.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		h.Send(RecoveryResult{err: fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)})
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	token, secret := r.PostForm.Get("token"), r.PostForm.Get("secret")
	if token == "" || secret == "" {
		h.Send(RecoveryResult{err: fmt.Errorf("%w: token and password are required", shared.ErrMissingArgument)})
		http.Error(w, "Token and password are required", http.StatusBadRequest)
		return
	}

	if err := h.confirmer.ConfirmRecovery(r.Context(), token, secret); err != nil {
		h.Send(RecoveryResult{err: err})
		h.render(w, recoveryStatus(err), recoveryPageData{Title: "Password reset failed", Message: err.Error()})
		return
	}

	h.Send(RecoveryResult{})
	h.render(w, http.StatusOK, recoveryPageData{
		Title:   "Password updated",
		Message: "You can close this window and sign in from the terminal.",
	})
}

func (h *RecoveryHandler) render(w http.ResponseWriter, status int, data recoveryPageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = recoveryPage.Execute(w, data)
}

func recoveryStatus(err error) int {
	switch {
	case errors.Is(err, shared.ErrUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, shared.ErrRegistrationRejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

// Send sends the result through the channel (only once).
func (h *RecoveryHandler) Send(result RecoveryResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result returns the result channel for receiving the confirmation outcome.
//
// Channel will receive exactly one result and then be closed.
func (h *RecoveryHandler) Result() <-chan RecoveryResult {
	return h.resultChan
}
