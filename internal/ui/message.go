package ui

import "github.com/desertthunder/crate/internal/models"

// startedMsg reports the outcome of starting or resuming onboarding.
type startedMsg struct {
	progress models.OnboardingProgress
	err      error
}

// advancedMsg reports the outcome of completing a step.
type advancedMsg struct {
	progress models.OnboardingProgress
	err      error
}

// finalizedMsg reports the outcome of finishing onboarding.
type finalizedMsg struct {
	err error
}
