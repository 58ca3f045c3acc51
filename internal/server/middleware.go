package server

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/redirect"
	"github.com/desertthunder/crate/internal/shared"
)

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogger logs one line per request with its status and duration, tagging each with an X-Request-ID.
func RequestLogger(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = shared.GenerateID()
			}
			w.Header().Set("X-Request-ID", id)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
				"request_id", id,
			)
		})
	}
}

// SessionSource exposes the current session. [session.Manager] implements it.
type SessionSource interface {
	State() models.Session
}

// CompletionSource reports whether a user has finished onboarding.
type CompletionSource func(ctx context.Context, userID string) (bool, error)

// IntentSource loads the navigation-intent flags.
type IntentSource func(ctx context.Context) (models.IntentFlags, error)

// GuardConfig wires [Guard] to its inputs.
type GuardConfig struct {
	Sessions   SessionSource
	Completed  CompletionSource
	Intent     IntentSource
	Classify   func(path string) redirect.View
	LoginPath  string
	Onboarding string
	RetryAfter time.Duration
	Logger     *log.Logger
}

// DefaultClassifier treats /login and /signup as public, /onboarding as the onboarding view,
// static paths as public, and everything else as protected.
func DefaultClassifier(path string) redirect.View {
	switch {
	case path == "/onboarding" || strings.HasPrefix(path, "/onboarding/"):
		return redirect.ViewOnboarding
	case path == "/login", path == "/signup", path == "/health",
		strings.HasPrefix(path, "/recovery/"), strings.HasPrefix(path, "/static/"):
		return redirect.ViewPublic
	default:
		return redirect.ViewProtected
	}
}

// Guard applies [redirect.Decide] to every request.
//
// ToLogin and ToOnboarding answer 302. Pending answers 503 with Retry-After. A completion signal
// that cannot be read is treated as Pending rather than guessing.
func Guard(cfg GuardConfig) Middleware {
	if cfg.Classify == nil {
		cfg.Classify = DefaultClassifier
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.Onboarding == "" {
		cfg.Onboarding = "/onboarding"
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = shared.DiscardLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			in := redirect.Input{
				Session: cfg.Sessions.State(),
				Target:  cfg.Classify(r.URL.Path),
			}

			if cfg.Intent != nil {
				flags, err := cfg.Intent(ctx)
				if err != nil {
					cfg.Logger.Warn("navigation intent unavailable", "err", err)
				}
				in.Intent = flags
			}

			decision := redirect.Pending
			if in.Session.Status != models.StatusAuthenticated || cfg.Completed == nil {
				decision = redirect.Decide(in)
			} else if done, err := cfg.Completed(ctx, in.Session.UserID()); err != nil {
				cfg.Logger.Warn("onboarding status unavailable", "user", in.Session.UserID(), "err", err)
			} else {
				in.OnboardingCompleted = done
				decision = redirect.Decide(in)
			}

			cfg.Logger.Debug("route decision", "path", r.URL.Path, "view", in.Target, "status", in.Session.Status, "decision", decision)

			switch decision {
			case redirect.ToLogin:
				target := cfg.LoginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
				http.Redirect(w, r, target, http.StatusFound)
			case redirect.ToOnboarding:
				http.Redirect(w, r, cfg.Onboarding, http.StatusFound)
			case redirect.Pending:
				w.Header().Set("Retry-After", strconv.Itoa(int(cfg.RetryAfter.Round(time.Second)/time.Second)))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":  in.Session.Status.String(),
					"message": "session is still resolving",
				})
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
