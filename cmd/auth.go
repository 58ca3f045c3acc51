package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/onboarding"
	"github.com/desertthunder/crate/internal/server"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/ui"
	"github.com/urfave/cli/v3"
)

const defaultListenTimeout = 5 * time.Minute

type statusView struct {
	Status              string           `json:"status"`
	Identity            *models.Identity `json:"identity,omitempty"`
	OnboardingCompleted *bool            `json:"onboarding_completed,omitempty"`
	Intent              string           `json:"intent"`
	Error               string           `json:"error,omitempty"`
}

// Status resolves the session and prints it with the user's onboarding state and navigation intent.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	s, checkErr := r.session(ctx)
	if checkErr != nil && !s.Initialized {
		return checkErr
	}

	view := statusView{Status: s.Status.String(), Identity: s.Identity}
	if s.Err != nil {
		view.Error = s.Err.Error()
	}

	if s.Status == models.StatusAuthenticated {
		done, err := onboarding.Completed(ctx, r.profiles, s.UserID())
		if err != nil {
			r.logger.Warn("failed to read onboarding status", "err", err)
		} else {
			view.OnboardingCompleted = &done
		}
	}

	flags, err := r.intents.Load(ctx)
	if err != nil {
		r.logger.Warn("failed to read navigation intent", "err", err)
	}
	view.Intent = flags.Intent().String()

	if cmd.Bool("json") {
		if err := r.writeJSON(view, true); err != nil {
			return err
		}
	} else {
		r.writePlain("%s\n", ui.Title("crate session"))
		r.writePlain("Status: %s\n", ui.SessionStatus(s.Status))
		if s.Identity != nil {
			r.writePlain("User: %s (%s)\n", s.Identity.Email, s.Identity.UserID)
		}
		if view.OnboardingCompleted != nil {
			if *view.OnboardingCompleted {
				r.writePlain("Onboarding: %s\n", ui.Success("complete"))
			} else {
				r.writePlain("Onboarding: %s\n", ui.Warning("incomplete"))
			}
		}
		r.writePlain("Intent: %s\n", ui.Muted(view.Intent))
		if view.Error != "" {
			r.writePlain("Error: %s\n", ui.Failure(view.Error))
		}
	}

	if s.Status == models.StatusFailed {
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, s.Err)
	}
	return nil
}

// SignUp creates an account, signs in and records that the user came from registration.
func (r *Runner) SignUp(ctx context.Context, cmd *cli.Command) error {
	email, password := cmd.StringArg("email"), cmd.String("password")
	if email == "" || password == "" {
		return fmt.Errorf("%w: email and --password are required", shared.ErrMissingArgument)
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	id, err := r.manager.SignUp(ctx, email, password, cmd.String("name"))
	if err != nil {
		return err
	}

	if err := r.intents.MarkRegistration(ctx); err != nil {
		r.logger.Warn("failed to record registration", "err", err)
	}
	if err := r.intents.MarkNeedsOnboarding(ctx); err != nil {
		r.logger.Warn("failed to record pending onboarding", "err", err)
	}

	r.writePlain("%s\n", ui.Success("✓ Account created"))
	r.writePlain("Signed in as %s\n", id.Email)
	r.writePlainln("Next: run 'crate onboard -i' to set up your profile")
	return nil
}

// Login signs in. With --new the profile is created before returning.
func (r *Runner) Login(ctx context.Context, cmd *cli.Command) error {
	email, password := cmd.StringArg("email"), cmd.String("password")
	if email == "" || password == "" {
		return fmt.Errorf("%w: email and --password are required", shared.ErrMissingArgument)
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	id, err := r.manager.SignIn(ctx, email, password, cmd.Bool("new"))
	if err != nil {
		return err
	}

	r.writePlain("%s\n", ui.Success("✓ Signed in"))
	r.writePlain("User: %s\n", id.Email)

	done, err := onboarding.Completed(ctx, r.profiles, id.UserID)
	if err != nil {
		r.logger.Debug("onboarding status unavailable", "err", err)
		return nil
	}
	if !done {
		r.writePlainln("Onboarding is not finished yet: run 'crate onboard -i'")
	}
	return nil
}

// Logout signs out locally and remotely. It always succeeds locally.
func (r *Runner) Logout(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}
	r.manager.SignOut(ctx)
	return r.writePlain("%s\n", ui.Success("✓ Signed out"))
}

// RecoverBegin requests a password reset email.
func (r *Runner) RecoverBegin(ctx context.Context, cmd *cli.Command) error {
	email := cmd.StringArg("email")
	if err := r.open(ctx); err != nil {
		return err
	}
	if err := r.manager.BeginRecovery(ctx, email); err != nil {
		return err
	}
	r.writePlain("✓ If %s has an account, a reset link is on its way\n", email)
	r.writePlain("Then run 'crate recover confirm --token <token> --listen'\n")
	return nil
}

// RecoverConfirm completes a password reset from flags or, with --listen, from a local browser form.
func (r *Runner) RecoverConfirm(ctx context.Context, cmd *cli.Command) error {
	token := cmd.String("token")
	if err := r.open(ctx); err != nil {
		return err
	}

	if cmd.Bool("listen") {
		return r.confirmInBrowser(ctx, token, cmd.Duration("timeout"))
	}

	if err := r.manager.ConfirmRecovery(ctx, token, cmd.String("secret")); err != nil {
		return err
	}
	r.writePlain("%s\n", ui.Success("✓ Password updated"))
	return r.writePlain("You can now sign in with 'crate login'\n")
}

// confirmInBrowser serves the reset form on the configured address and waits for one submission.
func (r *Runner) confirmInBrowser(ctx context.Context, token string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultListenTimeout
	}

	recoveryHandler := server.NewRecoveryHandler(r.manager)
	router := server.NewBasicRouter()
	router.Use(server.RequestLogger(r.logger))
	router.Handler(recoveryHandler)

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr := r.config.Server.Addr()
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Serve(serveCtx, addr, router, r.logger)
	}()

	formURL := fmt.Sprintf("http://%s/recovery/confirm?token=%s", addr, url.QueryEscape(token))
	r.writePlain("→ Opening browser to choose a new password...\n")
	if err := shared.OpenBrowser(formURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", formURL)
	}

	r.writePlain("→ Waiting for the form (%s timeout)...\n", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result server.RecoveryResult
	select {
	case result = <-recoveryHandler.Result():
	case err := <-serverErrors:
		if err == nil {
			err = errors.New("server stopped")
		}
		return fmt.Errorf("server error: %w", err)
	case <-timer.C:
		return fmt.Errorf("%w: no password submitted after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	cancel()
	<-serverErrors

	if result.Error() != nil {
		return fmt.Errorf("password reset failed: %w", result.Error())
	}

	r.writePlainln("%s", ui.Success("✓ Password updated"))
	return r.writePlain("You can now sign in with 'crate login'\n")
}
