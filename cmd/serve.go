package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/onboarding"
	"github.com/desertthunder/crate/internal/redirect"
	"github.com/desertthunder/crate/internal/server"
	"github.com/desertthunder/crate/internal/session"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/ui"
	"github.com/urfave/cli/v3"
)

type routeView struct {
	View     string `json:"view"`
	Status   string `json:"status"`
	Intent   string `json:"intent"`
	Decision string `json:"decision"`
}

// Route prints the redirect decision for a view given the current session.
func (r *Runner) Route(ctx context.Context, cmd *cli.Command) error {
	target, ok := redirect.ParseView(cmd.StringArg("view"))
	if !ok {
		return fmt.Errorf("%w: view must be public, protected or onboarding", shared.ErrInvalidArgument)
	}

	s, err := r.session(ctx)
	if err != nil && !s.Initialized {
		return err
	}

	in := redirect.Input{Session: s, Target: target}
	if in.Intent, err = r.intents.Load(ctx); err != nil {
		r.logger.Warn("failed to read navigation intent", "err", err)
	}

	decision := redirect.Pending
	if s.Status != models.StatusAuthenticated {
		decision = redirect.Decide(in)
	} else if done, err := onboarding.Completed(ctx, r.profiles, s.UserID()); err != nil {
		r.logger.Warn("failed to read onboarding status", "err", err)
	} else {
		in.OnboardingCompleted = done
		decision = redirect.Decide(in)
	}

	if cmd.Bool("json") {
		return r.writeJSON(routeView{
			View:     target.String(),
			Status:   s.Status.String(),
			Intent:   in.Intent.Intent().String(),
			Decision: decision.String(),
		}, false)
	}
	return r.writePlain("%s (%s) → %s\n", target, ui.SessionStatus(s.Status), ui.Decision(decision))
}

// Serve runs the session API behind the route guard until interrupted.
//
// The session is resolved in the background; requests arriving before it settles get 503.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	updates, unsubscribe := r.manager.Subscribe()
	defer unsubscribe()
	go func() {
		for s := range updates {
			r.logger.Info("session changed", "status", s.Status, "user", s.UserID())
		}
	}()

	go func() {
		if _, err := r.manager.Initialize(ctx); err != nil {
			r.logger.Warn("session check failed", "err", err)
		}
	}()

	router := r.newRouter()
	addr := r.config.Server.Addr()

	if cmd.Bool("open") {
		go func() {
			if err := shared.OpenBrowser("http://" + addr + "/"); err != nil {
				r.logger.Warnf("failed to open browser automatically %v", err)
			}
		}()
	}

	return server.Serve(ctx, addr, router, r.logger)
}

// newRouter wires the guard and the session endpoints for [Runner.Serve].
func (r *Runner) newRouter() *server.BasicRouter {
	focus := session.NewFocusWatcher(r.manager, r.config.Session.FocusRefreshInterval(), r.logger)

	// The session API and health check are registered before the guard so they answer in every state.
	router := server.NewBasicRouter()
	router.Use(server.RequestLogger(r.logger))
	router.Handler(server.NewSessionHandler(r.manager, focus))
	router.HandleFunc(http.MethodGet, "/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Use(server.Guard(server.GuardConfig{
		Sessions: r.manager,
		Completed: func(ctx context.Context, userID string) (bool, error) {
			return onboarding.Completed(ctx, r.profiles, userID)
		},
		Intent: r.intents.Load,
		Logger: r.logger,
	}))
	router.HandleFunc(http.MethodGet, "/login", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "sign in with 'crate login'",
			"next":    req.URL.Query().Get("next"),
		})
	})
	router.HandleFunc(http.MethodGet, "/onboarding", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "finish onboarding with 'crate onboard -i'",
			"steps":   r.config.Onboarding.Steps,
		})
	})
	router.HandleFunc(http.MethodGet, "/{$}", func(w http.ResponseWriter, req *http.Request) {
		s := r.manager.State()
		writeJSON(w, http.StatusOK, map[string]any{"status": s.Status.String(), "identity": s.Identity})
	})
	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
