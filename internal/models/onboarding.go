package models

import "slices"

// StepID names an onboarding step.
type StepID string

const (
	StepGenres              StepID = "genres"
	StepArtists             StepID = "artists"
	StepImportLegacyRatings StepID = "importLegacyRatings"
)

// StepData holds the values collected by a single step.
type StepData struct {
	Values []string `json:"values"`
}

// OnboardingProgress is the in-memory projection the onboarding wizard runs on.
//
// 0 <= CurrentIndex < len(Steps) while a step is active; CurrentIndex == len(Steps) means ready to finalize.
type OnboardingProgress struct {
	Steps         []StepID
	CurrentIndex  int
	Data          map[StepID]StepData
	IsNewUserFlow bool
}

// Current returns the active step, or false once every step has been completed.
func (p OnboardingProgress) Current() (StepID, bool) {
	if p.CurrentIndex < 0 || p.CurrentIndex >= len(p.Steps) {
		return "", false
	}
	return p.Steps[p.CurrentIndex], true
}

// ReadyToFinalize reports whether every step has been advanced past.
func (p OnboardingProgress) ReadyToFinalize() bool {
	return len(p.Steps) > 0 && p.CurrentIndex == len(p.Steps)
}

// Clone returns a deep copy of p.
func (p OnboardingProgress) Clone() OnboardingProgress {
	p.Steps = slices.Clone(p.Steps)
	data := make(map[StepID]StepData, len(p.Data))
	for k, v := range p.Data {
		data[k] = StepData{Values: slices.Clone(v.Values)}
	}
	p.Data = data
	return p
}

// NavigationIntent records why the user arrived at a view.
type NavigationIntent int

const (
	IntentNone NavigationIntent = iota
	IntentFromRegistration
	IntentResumeOnboarding
)

func (n NavigationIntent) String() string {
	switch n {
	case IntentNone:
		return "none"
	case IntentFromRegistration:
		return "from_registration"
	case IntentResumeOnboarding:
		return "resume_onboarding"
	default:
		return ""
	}
}

// IntentFlags is the raw pair of flags the registration screens write.
type IntentFlags struct {
	ComingFromRegistration bool // registration_complete
	NeedsOnboarding        bool // needs_onboarding
}

// Intent collapses the flags into one [NavigationIntent]. A fresh registration wins over a resume.
func (f IntentFlags) Intent() NavigationIntent {
	switch {
	case f.ComingFromRegistration:
		return IntentFromRegistration
	case f.NeedsOnboarding:
		return IntentResumeOnboarding
	default:
		return IntentNone
	}
}

// Any reports whether either flag is set.
func (f IntentFlags) Any() bool {
	return f.ComingFromRegistration || f.NeedsOnboarding
}
