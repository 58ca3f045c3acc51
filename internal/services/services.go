// package services defines the remote collaborators the client core talks to
//
// The identity service (accounts, sessions, password recovery) and the profile store.
package services

import (
	"context"

	"github.com/desertthunder/crate/internal/models"
)

// IdentityService is the remote identity service: it holds credentials and issues and validates sessions.
//
// Failures are [*shared.AuthError] values whose reason is one of [shared.ErrInvalidCredentials],
// [shared.ErrRegistrationRejected], [shared.ErrUnreachable] or [shared.ErrNotAuthenticated].
type IdentityService interface {
	// CreateAccount registers a new account. It does not sign in.
	CreateAccount(ctx context.Context, identifier, secret, displayName string) error

	// CreateSession signs in with an identifier and secret and returns a renewable credential
	// for later session recovery.
	CreateSession(ctx context.Context, identifier, secret string) (*models.RenewableCredential, error)

	// RenewSession re-establishes a session from a previously issued renewable credential.
	// The returned credential replaces the one passed in.
	RenewSession(ctx context.Context, credential *models.RenewableCredential) (*models.RenewableCredential, error)

	// CurrentIdentity returns the identity of the active session, or [shared.ErrNotAuthenticated].
	CurrentIdentity(ctx context.Context) (*models.Identity, error)

	// DestroySession ends the active session remotely.
	DestroySession(ctx context.Context) error

	// BeginRecovery starts a password reset for identifier.
	BeginRecovery(ctx context.Context, identifier string) error

	// ConfirmRecovery completes a password reset with the token the user received.
	ConfirmRecovery(ctx context.Context, token, secret string) error
}

// ProfileStore is the remote profile store: one profile document per user.
type ProfileStore interface {
	// ReadProfile returns the profile for userID or an error wrapping [shared.ErrProfileNotFound].
	ReadProfile(ctx context.Context, userID string) (*models.Profile, error)

	// CreateProfile creates the profile for userID from defaults.
	// It fails with [shared.ErrProfileExists] if one already exists.
	CreateProfile(ctx context.Context, userID string, defaults models.Profile) (*models.Profile, error)

	// UpdateProfile applies patch and returns the updated profile.
	// Failures are [*shared.PersistenceError] values.
	UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) (*models.Profile, error)
}
