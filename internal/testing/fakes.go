package testing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/google/uuid"
)

var (
	_ services.IdentityService = (*FakeIdentity)(nil)
	_ services.ProfileStore    = (*FakeProfiles)(nil)
)

type fakeAccount struct {
	secret   string
	identity models.Identity
}

// FakeIdentity is an in-memory [services.IdentityService].
//
// A gate installed with SetGate holds every CurrentIdentity call until it is closed (or the caller's
// context ends). Entered receives a value, without blocking, each time CurrentIdentity is entered.
// RenewGate, when non-nil, holds every RenewSession call the same way and RenewEntered signals entry.
type FakeIdentity struct {
	Entered      chan struct{}
	RenewEntered chan struct{}
	RenewGate    chan struct{}

	IdentityErr      error
	CreateSessionErr error
	RenewErr         error
	DestroyErr       error

	IdentityCalls      atomic.Int32
	CreateSessionCalls atomic.Int32
	RenewCalls         atomic.Int32
	DestroyCalls       atomic.Int32

	mu          sync.Mutex
	gate        chan struct{}
	accounts    map[string]*fakeAccount
	refresh     map[string]string // refresh token -> identifier
	recoveries  map[string]string // recovery token -> identifier
	current     *models.Identity
	lastRecover string
}

// NewFakeIdentity creates an empty identity service.
func NewFakeIdentity() *FakeIdentity {
	return &FakeIdentity{
		Entered:      make(chan struct{}, 16),
		RenewEntered: make(chan struct{}, 16),
		accounts:     make(map[string]*fakeAccount),
		refresh:      make(map[string]string),
		recoveries:   make(map[string]string),
	}
}

// AddAccount registers identifier with secret and returns its identity.
func (f *FakeIdentity) AddAccount(identifier, secret, displayName string) models.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addAccount(identifier, secret, displayName)
}

func (f *FakeIdentity) addAccount(identifier, secret, displayName string) models.Identity {
	id := models.Identity{
		UserID:      uuid.NewString(),
		Email:       identifier,
		DisplayName: displayName,
		CreatedAt:   time.Now(),
	}
	f.accounts[identifier] = &fakeAccount{secret: secret, identity: id}
	return id
}

// SetGate installs gate. nil removes it; calls already waiting keep waiting on the old gate.
func (f *FakeIdentity) SetGate(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
}

// SetSession marks identity as the active session, as a browser cookie would on page load.
func (f *FakeIdentity) SetSession(identity *models.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = identity
}

// Revoke invalidates a previously issued refresh token.
func (f *FakeIdentity) Revoke(refreshToken string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, refreshToken)
}

// LastRecoveryToken returns the token issued by the latest BeginRecovery.
func (f *FakeIdentity) LastRecoveryToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRecover
}

func (f *FakeIdentity) CreateAccount(_ context.Context, identifier, secret, displayName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[identifier]; ok {
		return shared.NewAuthError("create account", shared.ErrRegistrationRejected, fmt.Errorf("%s already registered", identifier))
	}
	if len(secret) < 8 {
		return shared.NewAuthError("create account", shared.ErrRegistrationRejected, fmt.Errorf("secret too weak"))
	}
	f.addAccount(identifier, secret, displayName)
	return nil
}

func (f *FakeIdentity) CreateSession(_ context.Context, identifier, secret string) (*models.RenewableCredential, error) {
	f.CreateSessionCalls.Add(1)
	if f.CreateSessionErr != nil {
		return nil, f.CreateSessionErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[identifier]
	if !ok || acct.secret != secret {
		return nil, shared.NewAuthError("create session", shared.ErrInvalidCredentials, nil)
	}
	id := acct.identity
	f.current = &id

	token := uuid.NewString()
	f.refresh[token] = identifier
	return &models.RenewableCredential{Identifier: identifier, RefreshToken: token, IssuedAt: time.Now()}, nil
}

func (f *FakeIdentity) RenewSession(ctx context.Context, credential *models.RenewableCredential) (*models.RenewableCredential, error) {
	f.RenewCalls.Add(1)
	select {
	case f.RenewEntered <- struct{}{}:
	default:
	}
	if f.RenewGate != nil {
		select {
		case <-f.RenewGate:
		case <-ctx.Done():
			return nil, shared.NewAuthError("renew session", shared.ErrUnreachable, ctx.Err())
		}
	}
	if f.RenewErr != nil {
		return nil, f.RenewErr
	}
	if !credential.Valid() {
		return nil, shared.NewAuthError("renew session", shared.ErrNotAuthenticated, shared.ErrNoCredential)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	identifier, ok := f.refresh[credential.RefreshToken]
	if !ok {
		return nil, shared.NewAuthError("renew session", shared.ErrNotAuthenticated, fmt.Errorf("refresh token revoked"))
	}
	id := f.accounts[identifier].identity
	f.current = &id

	renewed := *credential
	renewed.IssuedAt = time.Now()
	return &renewed, nil
}

func (f *FakeIdentity) CurrentIdentity(ctx context.Context) (*models.Identity, error) {
	f.IdentityCalls.Add(1)
	select {
	case f.Entered <- struct{}{}:
	default:
	}

	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, shared.NewAuthError("current identity", shared.ErrUnreachable, ctx.Err())
		}
	}

	if f.IdentityErr != nil {
		return nil, f.IdentityErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil, shared.NewAuthError("current identity", shared.ErrNotAuthenticated, nil)
	}
	id := *f.current
	return &id, nil
}

func (f *FakeIdentity) DestroySession(context.Context) error {
	f.DestroyCalls.Add(1)
	f.mu.Lock()
	f.current = nil
	f.mu.Unlock()
	return f.DestroyErr
}

func (f *FakeIdentity) BeginRecovery(_ context.Context, identifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := uuid.NewString()
	if _, ok := f.accounts[identifier]; ok {
		f.recoveries[token] = identifier
	}
	f.lastRecover = token
	return nil
}

func (f *FakeIdentity) ConfirmRecovery(_ context.Context, token, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	identifier, ok := f.recoveries[token]
	if !ok {
		return shared.NewAuthError("confirm recovery", shared.ErrInvalidCredentials, fmt.Errorf("recovery token expired"))
	}
	if len(secret) < 8 {
		return shared.NewAuthError("confirm recovery", shared.ErrRegistrationRejected, fmt.Errorf("secret too weak"))
	}
	f.accounts[identifier].secret = secret
	delete(f.recoveries, token)
	return nil
}

// FakeProfiles is an in-memory [services.ProfileStore] that enforces one profile per user.
//
// FailUpdates makes the next n UpdateProfile calls fail with [shared.ErrWriteFailed].
// CreateGate, when non-nil, holds every CreateProfile call until it is closed.
type FakeProfiles struct {
	CreateGate chan struct{}

	ReadErr   error
	CreateErr error

	ReadCalls   atomic.Int32
	CreateCalls atomic.Int32
	UpdateCalls atomic.Int32

	mu          sync.Mutex
	profiles    map[string]models.Profile
	failUpdates int
	patches     []models.ProfilePatch
}

// NewFakeProfiles creates an empty profile store.
func NewFakeProfiles() *FakeProfiles {
	return &FakeProfiles{profiles: make(map[string]models.Profile)}
}

// Put stores p, replacing any existing profile for the same user.
func (f *FakeProfiles) Put(p models.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.UserID] = p.Clone()
}

// Get returns a copy of the stored profile.
func (f *FakeProfiles) Get(userID string) (models.Profile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	return p.Clone(), ok
}

// Count returns the number of stored profiles.
func (f *FakeProfiles) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.profiles)
}

// FailUpdates makes the next n updates fail.
func (f *FakeProfiles) FailUpdates(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpdates = n
}

// Patches returns every patch that was applied successfully, in order.
func (f *FakeProfiles) Patches() []models.ProfilePatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ProfilePatch, len(f.patches))
	copy(out, f.patches)
	return out
}

func (f *FakeProfiles) ReadProfile(_ context.Context, userID string) (*models.Profile, error) {
	f.ReadCalls.Add(1)
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, shared.NewPersistenceError("read profile", shared.ErrProfileNotFound, nil)
	}
	p = p.Clone()
	return &p, nil
}

func (f *FakeProfiles) CreateProfile(ctx context.Context, userID string, defaults models.Profile) (*models.Profile, error) {
	f.CreateCalls.Add(1)
	if f.CreateGate != nil {
		select {
		case <-f.CreateGate:
		case <-ctx.Done():
			return nil, shared.NewPersistenceError("create profile", shared.ErrWriteFailed, ctx.Err())
		}
	}
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.profiles[userID]; ok {
		return nil, fmt.Errorf("create profile for %s: %w", userID, shared.ErrProfileExists)
	}
	p := defaults.Clone()
	p.UserID = userID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	f.profiles[userID] = p
	p = p.Clone()
	return &p, nil
}

func (f *FakeProfiles) UpdateProfile(_ context.Context, userID string, patch models.ProfilePatch) (*models.Profile, error) {
	f.UpdateCalls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdates > 0 {
		f.failUpdates--
		return nil, shared.NewPersistenceError("update profile", shared.ErrWriteFailed, fmt.Errorf("injected failure"))
	}
	p, ok := f.profiles[userID]
	if !ok {
		return nil, shared.NewPersistenceError("update profile", shared.ErrProfileNotFound, nil)
	}
	p.Apply(patch)
	p.UpdatedAt = time.Now()
	f.profiles[userID] = p
	f.patches = append(f.patches, patch)
	p = p.Clone()
	return &p, nil
}

// FlakyStore wraps a [models.KeyValueStore] and fails Delete while DeleteErr is set.
type FlakyStore struct {
	models.KeyValueStore
	DeleteErr   error
	DeleteCalls atomic.Int32
}

func (s *FlakyStore) Delete(ctx context.Context, keys ...string) error {
	s.DeleteCalls.Add(1)
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	return s.KeyValueStore.Delete(ctx, keys...)
}
