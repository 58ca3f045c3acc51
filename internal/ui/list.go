package ui

import (
	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/crate/internal/models"
)

var _ list.Item = optionItem{}

// optionItem is one selectable answer for a step. Implements [list.Item].
type optionItem struct {
	value    string
	selected bool
}

func (i optionItem) FilterValue() string { return i.value }
func (i optionItem) Title() string {
	if i.selected {
		return "[x] " + i.value
	}
	return "[ ] " + i.value
}
func (i optionItem) Description() string { return "" }

// DefaultChoices returns the answers offered for each built-in step.
func DefaultChoices() map[models.StepID][]string {
	return map[models.StepID][]string{
		models.StepGenres: {
			"ambient", "blues", "classical", "electronic", "folk", "hip-hop",
			"jazz", "metal", "pop", "punk", "r&b", "rock",
		},
		models.StepArtists: {
			"Alice Coltrane", "Björk", "Boards of Canada", "Fela Kuti", "Joni Mitchell",
			"Kate Bush", "Nina Simone", "Radiohead", "Sade", "Talking Heads",
		},
		models.StepImportLegacyRatings: {"rateyourmusic", "last.fm", "discogs"},
	}
}

// stepTitle is the heading shown above a step's choices.
func stepTitle(id models.StepID) string {
	switch id {
	case models.StepGenres:
		return "Pick the genres you listen to"
	case models.StepArtists:
		return "Pick a few favourite artists"
	case models.StepImportLegacyRatings:
		return "Import ratings from another service"
	default:
		return string(id)
	}
}
