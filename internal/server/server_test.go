package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/redirect"
	"github.com/desertthunder/crate/internal/shared"
	tu "github.com/desertthunder/crate/internal/testing"
)

type staticSession struct {
	s models.Session
}

func (s staticSession) State() models.Session { return s.s }

type countingRefresher struct {
	mu    sync.Mutex
	calls int
	allow bool
}

func (r *countingRefresher) Notify(context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.allow
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func completed(done bool, err error) CompletionSource {
	return func(context.Context, string) (bool, error) { return done, err }
}

func TestBasicRouter(t *testing.T) {
	t.Run("Wrong method is rejected with Allow header", func(t *testing.T) {
		r := NewBasicRouter()
		r.Handle(http.MethodGet, "/health", okHandler())

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", rec.Code)
		}
		if got := rec.Header().Get("Allow"); got != http.MethodGet {
			t.Errorf("expected Allow GET, got %q", got)
		}
	})

	t.Run("Middleware runs in registration order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.HandleFunc(http.MethodGet, "/", okHandler().ServeHTTP)
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if strings.Join(order, ",") != "first,second" {
			t.Errorf("expected first,second, got %v", order)
		}
	})

	t.Run("Request logger sets a request id", func(t *testing.T) {
		r := NewBasicRouter()
		r.Use(RequestLogger(shared.DiscardLogger()))
		r.Handle(http.MethodGet, "/health", okHandler())

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header")
		}

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "abc")
		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if got := rec.Header().Get("X-Request-ID"); got != "abc" {
			t.Errorf("expected incoming request id to be kept, got %q", got)
		}
	})
}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		path string
		want redirect.View
	}{
		{"/login", redirect.ViewPublic},
		{"/signup", redirect.ViewPublic},
		{"/recovery/confirm", redirect.ViewPublic},
		{"/static/app.css", redirect.ViewPublic},
		{"/onboarding", redirect.ViewOnboarding},
		{"/onboarding/genres", redirect.ViewOnboarding},
		{"/onboardingx", redirect.ViewProtected},
		{"/", redirect.ViewProtected},
		{"/library", redirect.ViewProtected},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := DefaultClassifier(tt.path); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestGuard(t *testing.T) {
	id := models.Identity{UserID: "u-1", Email: "nina@example.com"}

	serve := func(cfg GuardConfig, path string) *httptest.ResponseRecorder {
		r := NewBasicRouter()
		r.Use(Guard(cfg))
		r.Handler(passthrough{})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	t.Run("Anonymous user is sent to login with next", func(t *testing.T) {
		rec := serve(GuardConfig{Sessions: staticSession{models.Anonymous()}}, "/library?tab=1")

		if rec.Code != http.StatusFound {
			t.Fatalf("expected 302, got %d", rec.Code)
		}
		loc, err := url.Parse(rec.Header().Get("Location"))
		if err != nil {
			t.Fatalf("bad location: %v", err)
		}
		if loc.Path != "/login" || loc.Query().Get("next") != "/library?tab=1" {
			t.Errorf("unexpected redirect %s", loc)
		}
	})

	t.Run("Anonymous user reaches public pages", func(t *testing.T) {
		rec := serve(GuardConfig{Sessions: staticSession{models.Anonymous()}}, "/login")
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("Resolving session answers 503", func(t *testing.T) {
		for _, s := range []models.Session{{}, {Status: models.StatusChecking}, {Status: models.StatusRecovering, Initialized: true}} {
			rec := serve(GuardConfig{Sessions: staticSession{s}, RetryAfter: 2 * time.Second}, "/library")
			if rec.Code != http.StatusServiceUnavailable {
				t.Fatalf("%v: expected 503, got %d", s.Status, rec.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != "2" {
				t.Errorf("%v: expected Retry-After 2, got %q", s.Status, got)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body["status"] != s.Status.String() {
				t.Errorf("expected status %s in body, got %q", s.Status, body["status"])
			}
		}
	})

	t.Run("Unfinished onboarding redirects", func(t *testing.T) {
		rec := serve(GuardConfig{
			Sessions:  staticSession{models.Authenticated(id)},
			Completed: completed(false, nil),
		}, "/library")

		if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/onboarding" {
			t.Errorf("expected redirect to /onboarding, got %d %q", rec.Code, rec.Header().Get("Location"))
		}
	})

	t.Run("Onboarded user is allowed", func(t *testing.T) {
		var gotUser string
		rec := serve(GuardConfig{
			Sessions: staticSession{models.Authenticated(id)},
			Completed: func(_ context.Context, userID string) (bool, error) {
				gotUser = userID
				return true, nil
			},
		}, "/library")

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
		if gotUser != id.UserID {
			t.Errorf("expected completion lookup for %s, got %q", id.UserID, gotUser)
		}
	})

	t.Run("Unreadable completion is pending", func(t *testing.T) {
		rec := serve(GuardConfig{
			Sessions:  staticSession{models.Authenticated(id)},
			Completed: completed(false, shared.NewPersistenceError("read profile", shared.ErrWriteFailed, nil)),
		}, "/library")

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rec.Code)
		}
	})

	t.Run("Registration intent lets an anonymous user onboard", func(t *testing.T) {
		intent := func(context.Context) (models.IntentFlags, error) {
			return models.IntentFlags{ComingFromRegistration: true}, nil
		}

		rec := serve(GuardConfig{Sessions: staticSession{models.Anonymous()}, Intent: intent}, "/onboarding")
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("Intent read failure falls back to no intent", func(t *testing.T) {
		intent := func(context.Context) (models.IntentFlags, error) {
			return models.IntentFlags{}, errors.New("store down")
		}

		rec := serve(GuardConfig{Sessions: staticSession{models.Anonymous()}, Intent: intent}, "/onboarding")
		if rec.Code != http.StatusFound {
			t.Errorf("expected 302, got %d", rec.Code)
		}
	})
}

// passthrough answers 200 on every path so the guard's decision is the only variable.
type passthrough struct{}

func (passthrough) Routes() []string { return []string{"/"} }

func (passthrough) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	okHandler().ServeHTTP(w, r)
}

func TestSessionHandler(t *testing.T) {
	id := models.Identity{UserID: "u-1", Email: "nina@example.com"}

	t.Run("GET returns the snapshot", func(t *testing.T) {
		h := NewSessionHandler(staticSession{models.Authenticated(id)}, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var v sessionView
		if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if v.Status != "authenticated" || !v.Initialized || v.Identity == nil || v.Identity.UserID != id.UserID {
			t.Errorf("unexpected view %+v", v)
		}
		if v.Refreshed != nil {
			t.Error("expected no refreshed field on GET")
		}
	})

	t.Run("Failed session carries its error", func(t *testing.T) {
		h := NewSessionHandler(staticSession{models.Failed(shared.ErrUnreachable)}, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))

		var v sessionView
		if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if v.Error != shared.ErrUnreachable.Error() {
			t.Errorf("expected error %q, got %q", shared.ErrUnreachable, v.Error)
		}
	})

	t.Run("POST refresh notifies the focus watcher", func(t *testing.T) {
		focus := &countingRefresher{allow: true}
		h := NewSessionHandler(staticSession{models.Anonymous()}, focus)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session/refresh", nil))

		var v sessionView
		if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if focus.calls != 1 {
			t.Errorf("expected 1 notify, got %d", focus.calls)
		}
		if v.Refreshed == nil || !*v.Refreshed {
			t.Errorf("expected refreshed=true, got %+v", v.Refreshed)
		}
	})

	t.Run("Wrong method is rejected", func(t *testing.T) {
		h := NewSessionHandler(staticSession{models.Anonymous()}, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/refresh", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})
}

func TestRecoveryHandler(t *testing.T) {
	ctx := context.Background()

	post := func(h http.Handler, form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/recovery/confirm", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("GET renders the form with the token", func(t *testing.T) {
		h := NewRecoveryHandler(tu.NewFakeIdentity())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recovery/confirm?token=tok-1", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `value="tok-1"`) {
			t.Error("expected token in form")
		}
	})

	t.Run("Valid submission confirms once", func(t *testing.T) {
		identity := tu.NewFakeIdentity()
		identity.AddAccount("nina@example.com", "hunter22", "Nina")
		if err := identity.BeginRecovery(ctx, "nina@example.com"); err != nil {
			t.Fatalf("begin recovery: %v", err)
		}
		token := identity.LastRecoveryToken()

		h := NewRecoveryHandler(identity)
		rec := post(h, url.Values{"token": {token}, "secret": {"correct-horse"}})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		result := <-h.Result()
		if result.Error() != nil {
			t.Errorf("expected success, got %v", result.Error())
		}

		rec = post(h, url.Values{"token": {token}, "secret": {"correct-horse"}})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected second submission to be rejected, got %d", rec.Code)
		}

		if _, err := identity.CreateSession(ctx, "nina@example.com", "correct-horse"); err != nil {
			t.Errorf("expected new password to work: %v", err)
		}
	})

	t.Run("Expired token reports the error", func(t *testing.T) {
		h := NewRecoveryHandler(tu.NewFakeIdentity())
		rec := post(h, url.Values{"token": {"stale"}, "secret": {"correct-horse"}})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		result := <-h.Result()
		if !errors.Is(result.Error(), shared.ErrInvalidCredentials) {
			t.Errorf("expected invalid credentials, got %v", result.Error())
		}
	})

	t.Run("Weak secret is unprocessable", func(t *testing.T) {
		identity := tu.NewFakeIdentity()
		identity.AddAccount("nina@example.com", "hunter22", "Nina")
		_ = identity.BeginRecovery(ctx, "nina@example.com")

		h := NewRecoveryHandler(identity)
		rec := post(h, url.Values{"token": {identity.LastRecoveryToken()}, "secret": {"short"}})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d", rec.Code)
		}
	})

	t.Run("Missing fields are rejected", func(t *testing.T) {
		h := NewRecoveryHandler(tu.NewFakeIdentity())
		rec := post(h, url.Values{"token": {"tok"}})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		result := <-h.Result()
		if !errors.Is(result.Error(), shared.ErrMissingArgument) {
			t.Errorf("expected missing argument, got %v", result.Error())
		}
	})
}
