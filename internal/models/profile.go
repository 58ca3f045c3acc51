package models

import (
	"slices"
	"strings"
	"time"

	"github.com/desertthunder/crate/internal/shared"
)

// Profile is a user's profile document: attributes plus persisted onboarding progress.
type Profile struct {
	UserID              string              `json:"user_id"`
	DisplayName         string              `json:"display_name"`
	Email               string              `json:"email"`
	Bio                 string              `json:"bio"`
	PreferredGenres     []string            `json:"preferred_genres"` // set semantics, see [GenreSet]
	FavoriteArtists     []string            `json:"favorite_artists"` // user order preserved
	Answers             map[StepID][]string `json:"answers"`
	OnboardingCompleted bool                `json:"onboarding_completed"`
	LastCompletedStep   StepID              `json:"last_completed_step,omitempty"` // "" when unset
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// DefaultProfile builds the profile created the first time a user authenticates.
func DefaultProfile(id Identity) Profile {
	return Profile{
		UserID:          id.UserID,
		DisplayName:     id.DisplayName,
		Email:           id.Email,
		PreferredGenres: []string{},
		FavoriteArtists: []string{},
		Answers:         map[StepID][]string{},
	}
}

// ProfilePatch is a partial profile update. Nil fields are left unchanged.
type ProfilePatch struct {
	DisplayName         *string
	Bio                 *string
	Answers             map[StepID]StepData
	LastCompletedStep   *StepID
	OnboardingCompleted *bool
}

// Apply merges patch into p.
//
// Answers are stored per step. The genres and artists answers are also projected onto
// PreferredGenres and FavoriteArtists.
func (p *Profile) Apply(patch ProfilePatch) {
	if patch.DisplayName != nil {
		p.DisplayName = *patch.DisplayName
	}
	if patch.Bio != nil {
		p.Bio = *patch.Bio
	}
	if len(patch.Answers) > 0 && p.Answers == nil {
		p.Answers = make(map[StepID][]string, len(patch.Answers))
	}
	for step, data := range patch.Answers {
		values := slices.Clone(data.Values)
		switch step {
		case StepGenres:
			values = GenreSet(values)
			p.PreferredGenres = values
		case StepArtists:
			values = ArtistList(values)
			p.FavoriteArtists = values
		}
		p.Answers[step] = values
	}
	if patch.LastCompletedStep != nil {
		p.LastCompletedStep = *patch.LastCompletedStep
	}
	if patch.OnboardingCompleted != nil {
		p.OnboardingCompleted = *patch.OnboardingCompleted
	}
}

// Clone returns a deep copy of p.
func (p Profile) Clone() Profile {
	p.PreferredGenres = slices.Clone(p.PreferredGenres)
	p.FavoriteArtists = slices.Clone(p.FavoriteArtists)
	if p.Answers != nil {
		answers := make(map[StepID][]string, len(p.Answers))
		for k, v := range p.Answers {
			answers[k] = slices.Clone(v)
		}
		p.Answers = answers
	}
	return p
}

// StepData returns the persisted answers as onboarding step data.
func (p Profile) StepData() map[StepID]StepData {
	data := make(map[StepID]StepData, len(p.Answers))
	for step, values := range p.Answers {
		data[step] = StepData{Values: slices.Clone(values)}
	}
	return data
}

// GenreSet trims, lowercases and deduplicates genres, returning them sorted.
func GenreSet(genres []string) []string {
	out := make([]string, 0, len(genres))
	for _, g := range genres {
		if g = shared.NormalizeSelection(g); g != "" {
			out = append(out, g)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ArtistList trims artists and drops blanks and repeats, keeping the first occurrence's position.
func ArtistList(artists []string) []string {
	out := make([]string, 0, len(artists))
	seen := make(map[string]bool, len(artists))
	for _, a := range artists {
		a = strings.TrimSpace(a)
		key := strings.ToLower(a)
		if a == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}
