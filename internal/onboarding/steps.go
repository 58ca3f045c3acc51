package onboarding

import (
	"fmt"
	"slices"
	"strings"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

// Step is one configured wizard step.
type Step struct {
	ID            models.StepID
	MinSelections int
}

// DefaultSteps returns genres (at least one), artists and importLegacyRatings.
func DefaultSteps() []Step {
	return []Step{
		{ID: models.StepGenres, MinSelections: 1},
		{ID: models.StepArtists},
		{ID: models.StepImportLegacyRatings},
	}
}

// StepsFromConfig builds the step list in configured order.
func StepsFromConfig(cfg shared.OnboardingConfig) ([]Step, error) {
	if len(cfg.Steps) == 0 {
		return nil, fmt.Errorf("%w: no onboarding steps configured", shared.ErrInvalidConfig)
	}

	steps := make([]Step, 0, len(cfg.Steps))
	for _, name := range cfg.Steps {
		id := models.StepID(strings.TrimSpace(name))
		if id == "" {
			return nil, fmt.Errorf("%w: blank onboarding step", shared.ErrInvalidConfig)
		}
		if slices.ContainsFunc(steps, func(s Step) bool { return s.ID == id }) {
			return nil, fmt.Errorf("%w: duplicate onboarding step %q", shared.ErrInvalidConfig, id)
		}

		step := Step{ID: id}
		switch id {
		case models.StepGenres:
			step.MinSelections = cfg.MinGenres
		case models.StepArtists:
			step.MinSelections = cfg.MinArtists
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// Validate checks data against the step's selection minimum.
func (s Step) Validate(data models.StepData) error {
	if n := Selections(s.ID, data); n < s.MinSelections {
		return &shared.ValidationError{
			Step:   string(s.ID),
			Reason: shared.ErrStepIncomplete,
			Detail: fmt.Sprintf("select at least %d, got %d", s.MinSelections, n),
		}
	}
	return nil
}

// Selections counts the distinct, non-blank values in data the way the profile will store them.
func Selections(id models.StepID, data models.StepData) int {
	switch id {
	case models.StepGenres:
		return len(models.GenreSet(data.Values))
	case models.StepArtists:
		return len(models.ArtistList(data.Values))
	default:
		n := 0
		for _, v := range data.Values {
			if strings.TrimSpace(v) != "" {
				n++
			}
		}
		return n
	}
}

func stepIDs(steps []Step) []models.StepID {
	ids := make([]models.StepID, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}
