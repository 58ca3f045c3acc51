package onboarding

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
)

const (
	KeyNeedsOnboarding      = "needs_onboarding"
	KeyRegistrationComplete = "registration_complete"
)

// IntentStore reads and writes the navigation-intent flags set by the registration screens.
type IntentStore struct {
	store models.KeyValueStore
}

// NewIntentStore wraps the per-tab key-value store.
func NewIntentStore(store models.KeyValueStore) *IntentStore {
	return &IntentStore{store: store}
}

// Load returns the current flags. A missing flag is unset.
func (s *IntentStore) Load(ctx context.Context) (models.IntentFlags, error) {
	var flags models.IntentFlags
	var err error
	if flags.ComingFromRegistration, err = s.flag(ctx, KeyRegistrationComplete); err != nil {
		return models.IntentFlags{}, err
	}
	if flags.NeedsOnboarding, err = s.flag(ctx, KeyNeedsOnboarding); err != nil {
		return models.IntentFlags{}, err
	}
	return flags, nil
}

// MarkRegistration records that the user has just registered.
func (s *IntentStore) MarkRegistration(ctx context.Context) error {
	if err := s.store.Set(ctx, KeyRegistrationComplete, "true"); err != nil {
		return fmt.Errorf("failed to mark registration: %w", err)
	}
	return nil
}

// MarkNeedsOnboarding records that the user still has onboarding to finish.
func (s *IntentStore) MarkNeedsOnboarding(ctx context.Context) error {
	if err := s.store.Set(ctx, KeyNeedsOnboarding, "true"); err != nil {
		return fmt.Errorf("failed to mark onboarding: %w", err)
	}
	return nil
}

// Clear removes both flags in one store call.
func (s *IntentStore) Clear(ctx context.Context) error {
	if err := s.store.Delete(ctx, KeyRegistrationComplete, KeyNeedsOnboarding); err != nil {
		return fmt.Errorf("failed to clear navigation intent: %w", err)
	}
	return nil
}

// ConsumeRegistration drops the registration flag and keeps onboarding pending, so the next
// start resumes saved progress instead of starting over.
func (s *IntentStore) ConsumeRegistration(ctx context.Context) error {
	if err := s.store.Set(ctx, KeyNeedsOnboarding, "true"); err != nil {
		return fmt.Errorf("failed to mark onboarding: %w", err)
	}
	if err := s.store.Delete(ctx, KeyRegistrationComplete); err != nil {
		return fmt.Errorf("failed to clear registration flag: %w", err)
	}
	return nil
}

func (s *IntentStore) flag(ctx context.Context, key string) (bool, error) {
	v, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return ok && v != "" && v != "0" && v != "false", nil
}

// Completed reports whether userID has finished onboarding. A user without a profile has not.
func Completed(ctx context.Context, profiles services.ProfileStore, userID string) (bool, error) {
	profile, err := profiles.ReadProfile(ctx, userID)
	if errors.Is(err, shared.ErrProfileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return profile.OnboardingCompleted, nil
}
