package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
	"golang.org/x/sync/singleflight"
)

const checkKey = "check"

// Manager is the session lifecycle manager.
type Manager struct {
	identity services.IdentityService
	profiles services.ProfileStore
	creds    *CredentialCache
	logger   *log.Logger

	checks  singleflight.Group
	ensures singleflight.Group
	bg      sync.WaitGroup

	// commitMu orders epoch changes, state commits and credential writes.
	commitMu sync.Mutex
	epoch    uint64

	mu        sync.Mutex
	state     models.Session
	confirmed map[string]bool // users whose profile is known to exist

	updates shared.Broadcaster[models.Session]
}

// NewManager creates a manager in the Uninitialized state.
func NewManager(identity services.IdentityService, profiles services.ProfileStore, creds *CredentialCache, logger *log.Logger) *Manager {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Manager{
		identity:  identity,
		profiles:  profiles,
		creds:     creds,
		logger:    shared.WithLogger(logger, "component", "session"),
		confirmed: make(map[string]bool),
	}
}

// State returns a snapshot of the current session.
func (m *Manager) State() models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Subscribe returns a channel carrying the latest session after every change.
func (m *Manager) Subscribe() (<-chan models.Session, func()) {
	return m.updates.Subscribe()
}

// Wait blocks until background profile guarantees have finished.
func (m *Manager) Wait() {
	m.bg.Wait()
}

// Initialize runs the first session check. Once the session is initialized it returns the
// current state without calling the identity service.
//
// Authentication failures settle the session as Anonymous and are not returned. An unreachable
// identity service settles it as Failed and returns the cause.
func (m *Manager) Initialize(ctx context.Context) (models.Session, error) {
	if s := m.State(); s.Initialized {
		return s, s.Err
	}
	return m.check(ctx)
}

// Refresh re-validates the session, joining a check that is already in flight.
func (m *Manager) Refresh(ctx context.Context) (models.Session, error) {
	return m.check(ctx)
}

// check runs one shared flight. Each caller stops waiting when its own ctx ends; the flight itself
// runs to completion.
func (m *Manager) check(ctx context.Context) (models.Session, error) {
	detached := context.WithoutCancel(ctx)
	ch := m.checks.DoChan(checkKey, func() (any, error) {
		s, err := m.runCheck(detached)
		return s, err
	})

	select {
	case res := <-ch:
		s, _ := res.Val.(models.Session)
		return s, res.Err
	case <-ctx.Done():
		return m.State(), ctx.Err()
	}
}

func (m *Manager) runCheck(ctx context.Context) (models.Session, error) {
	m.commitMu.Lock()
	epoch := m.epoch
	prev := m.State()
	if prev.Status != models.StatusAuthenticated {
		m.setState(models.Session{Status: models.StatusChecking, Initialized: prev.Initialized})
	}
	m.commitMu.Unlock()

	m.logger.Debug("checking session", "check", shared.GenerateID(), "epoch", epoch, "from", prev.Status)

	id, err := m.identity.CurrentIdentity(ctx)
	switch {
	case err == nil:
		return m.settle(epoch, models.Authenticated(*id)), nil
	case errors.Is(err, shared.ErrUnreachable):
		if prev.Status == models.StatusAuthenticated {
			m.logger.Warn("session re-check failed, keeping session", "err", err)
			return m.settle(epoch, prev), err
		}
		m.logger.Error("identity service unreachable", "err", err)
		return m.settle(epoch, models.Failed(err)), err
	default:
		m.logger.Debug("no active session", "err", err)
		return m.recoverSession(ctx, epoch)
	}
}

// recoverSession makes the single recovery attempt a check is allowed.
func (m *Manager) recoverSession(ctx context.Context, epoch uint64) (models.Session, error) {
	cred, err := m.creds.Load(ctx)
	if err != nil {
		m.logger.Warn("credential cache unavailable", "err", err)
	}
	if !cred.Valid() {
		return m.settle(epoch, models.Anonymous()), nil
	}

	m.commitMu.Lock()
	if m.epoch != epoch {
		m.commitMu.Unlock()
		return m.State(), nil
	}
	m.setState(models.Session{Status: models.StatusRecovering, Initialized: m.State().Initialized})
	m.commitMu.Unlock()

	m.logger.Debug("recovering session", "identifier", cred.Identifier)

	renewed, err := m.identity.RenewSession(ctx, cred)
	if err != nil {
		if errors.Is(err, shared.ErrUnreachable) {
			m.logger.Error("recovery failed, identity service unreachable", "err", err)
			return m.settle(epoch, models.Failed(err)), err
		}
		m.logger.Info("recovery rejected, clearing credential", "err", err)
		return m.settleWith(epoch, models.Anonymous(), func(ctx context.Context) error {
			return m.creds.Clear(ctx)
		}), nil
	}

	m.commitMu.Lock()
	if m.epoch != epoch {
		// A sign-out that ran during the renewal must not leave the renewed remote session alive.
		if m.State().Status != models.StatusAuthenticated {
			if err := m.identity.DestroySession(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("failed to end session renewed after sign-out", "err", err)
			}
		}
		m.commitMu.Unlock()
		m.logger.Debug("discarding renewed session", "epoch", epoch)
		return m.State(), nil
	}
	if err := m.creds.Save(ctx, renewed); err != nil {
		m.logger.Warn("failed to cache renewed credential", "err", err)
	}
	m.commitMu.Unlock()

	id, err := m.identity.CurrentIdentity(ctx)
	switch {
	case err == nil:
		return m.settle(epoch, models.Authenticated(*id)), nil
	case errors.Is(err, shared.ErrUnreachable):
		return m.settle(epoch, models.Failed(err)), err
	default:
		m.logger.Warn("renewed session has no identity", "err", err)
		return m.settle(epoch, models.Anonymous()), nil
	}
}

func (m *Manager) settle(epoch uint64, s models.Session) models.Session {
	return m.settleWith(epoch, s, nil)
}

// settleWith commits s, and runs fn, only if no sign-in, sign-up or sign-out happened since epoch.
func (m *Manager) settleWith(epoch uint64, s models.Session, fn func(context.Context) error) models.Session {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	if m.epoch != epoch {
		m.logger.Debug("discarding stale check result", "epoch", epoch, "current", m.epoch, "status", s.Status)
		return m.State()
	}
	if fn != nil {
		if err := fn(context.Background()); err != nil {
			m.logger.Warn("failed to update credential cache", "err", err)
		}
	}

	m.setState(s)
	if s.Status == models.StatusAuthenticated {
		m.healProfile(*s.Identity)
	}
	return s.Clone()
}

func (m *Manager) setState(s models.Session) {
	m.mu.Lock()
	m.state = s.Clone()
	m.mu.Unlock()

	m.logger.Debug("session state", "status", s.Status, "user", s.UserID())
	m.updates.Publish(s.Clone())
}

// SignUp registers a new account, signs it in and creates its profile.
//
// A profile failure is logged; the identity is still returned.
func (m *Manager) SignUp(ctx context.Context, identifier, secret, displayName string) (*models.Identity, error) {
	if err := m.identity.CreateAccount(ctx, identifier, secret, displayName); err != nil {
		m.logger.Error("sign-up rejected", "identifier", identifier, "err", err)
		return nil, err
	}

	id, err := m.establish(ctx, "sign up", identifier, secret, false)
	if err != nil {
		return nil, err
	}

	if _, err := m.EnsureProfileExists(ctx, *id); err != nil {
		m.logger.Warn("profile creation failed after sign-up", "user", id.UserID, "err", err)
	}
	return id, nil
}

// SignIn signs in with identifier and secret.
//
// With isNewUserHint the profile guarantee runs before returning; otherwise it runs in the background.
func (m *Manager) SignIn(ctx context.Context, identifier, secret string, isNewUserHint bool) (*models.Identity, error) {
	id, err := m.establish(ctx, "sign in", identifier, secret, !isNewUserHint)
	if err != nil {
		return nil, err
	}

	if isNewUserHint {
		if _, err := m.EnsureProfileExists(ctx, *id); err != nil {
			m.logger.Warn("profile creation failed after sign-in", "user", id.UserID, "err", err)
		}
	}
	return id, nil
}

// establish creates a session, fetches its identity and commits it under a new epoch.
func (m *Manager) establish(ctx context.Context, op, identifier, secret string, heal bool) (*models.Identity, error) {
	cred, err := m.identity.CreateSession(ctx, identifier, secret)
	if err != nil {
		m.logger.Error(op+" failed", "identifier", identifier, "err", err)
		return nil, err
	}

	id, err := m.identity.CurrentIdentity(ctx)
	if err != nil {
		m.logger.Error(op+" failed to fetch identity", "identifier", identifier, "err", err)
		return nil, err
	}

	m.commitMu.Lock()
	m.epoch++
	m.setState(models.Authenticated(*id))
	if err := m.creds.Save(ctx, cred); err != nil {
		m.logger.Warn("failed to cache credential", "err", err)
	}
	if heal {
		m.healProfile(*id)
	}
	m.commitMu.Unlock()

	m.logger.Info("signed in", "user", id.UserID, "op", op)
	return id, nil
}

// SignOut clears the local session and credential, then ends the remote session.
// A remote failure is logged; the local sign-out always stands.
func (m *Manager) SignOut(ctx context.Context) {
	m.commitMu.Lock()
	m.epoch++
	user := m.State().UserID()
	m.setState(models.Anonymous())
	if err := m.creds.Clear(ctx); err != nil {
		m.logger.Warn("failed to clear credential", "err", err)
	}
	m.commitMu.Unlock()

	if err := m.identity.DestroySession(ctx); err != nil {
		m.logger.Warn("remote sign-out failed", "user", user, "err", err)
		return
	}
	m.logger.Info("signed out", "user", user)
}

// BeginRecovery starts a password reset for identifier.
func (m *Manager) BeginRecovery(ctx context.Context, identifier string) error {
	if identifier == "" {
		return fmt.Errorf("%w: identifier", shared.ErrMissingArgument)
	}
	if err := m.identity.BeginRecovery(ctx, identifier); err != nil {
		m.logger.Error("begin recovery failed", "identifier", identifier, "err", err)
		return err
	}
	m.logger.Info("recovery started", "identifier", identifier)
	return nil
}

// ConfirmRecovery completes a password reset. It does not sign in.
func (m *Manager) ConfirmRecovery(ctx context.Context, token, secret string) error {
	if token == "" || secret == "" {
		return fmt.Errorf("%w: token and secret", shared.ErrMissingArgument)
	}
	if err := m.identity.ConfirmRecovery(ctx, token, secret); err != nil {
		m.logger.Error("confirm recovery failed", "err", err)
		return err
	}
	m.logger.Info("recovery confirmed")
	return nil
}

// EnsureProfileExists returns the profile for id, creating a default one if none exists.
//
// Concurrent calls for the same user share one read-and-create.
func (m *Manager) EnsureProfileExists(ctx context.Context, id models.Identity) (*models.Profile, error) {
	if id.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}

	detached := context.WithoutCancel(ctx)
	ch := m.ensures.DoChan(id.UserID, func() (any, error) {
		return m.ensureProfile(detached, id)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		p := res.Val.(*models.Profile).Clone()
		return &p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) ensureProfile(ctx context.Context, id models.Identity) (*models.Profile, error) {
	profile, err := m.profiles.ReadProfile(ctx, id.UserID)
	switch {
	case err == nil:
		m.markConfirmed(id.UserID)
		return profile, nil
	case !errors.Is(err, shared.ErrProfileNotFound):
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	profile, err = m.profiles.CreateProfile(ctx, id.UserID, models.DefaultProfile(id))
	if errors.Is(err, shared.ErrProfileExists) {
		profile, err = m.profiles.ReadProfile(ctx, id.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	m.logger.Info("profile created", "user", id.UserID)
	m.markConfirmed(id.UserID)
	return profile, nil
}

func (m *Manager) markConfirmed(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmed[userID] = true
}

// healProfile runs the profile guarantee in the background for a user whose profile is not yet confirmed.
func (m *Manager) healProfile(id models.Identity) {
	m.mu.Lock()
	done := m.confirmed[id.UserID]
	m.mu.Unlock()
	if done {
		return
	}

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		if _, err := m.EnsureProfileExists(context.Background(), id); err != nil {
			m.logger.Warn("background profile guarantee failed", "user", id.UserID, "err", err)
		}
	}()
}
