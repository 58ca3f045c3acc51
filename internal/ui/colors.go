package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/redirect"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

func Title(s string) string   { return styles.title.Render(s) }
func Success(s string) string { return styles.ok.Render(s) }
func Failure(s string) string { return styles.err.Render(s) }
func Warning(s string) string { return styles.warn.Render(s) }
func Muted(s string) string   { return styles.help.Render(s) }

// SessionStatus renders status in the color of its outcome: settled states are green or red,
// states still resolving are muted.
func SessionStatus(status models.SessionStatus) string {
	switch status {
	case models.StatusAuthenticated:
		return Success(status.String())
	case models.StatusFailed:
		return Failure(status.String())
	case models.StatusAnonymous:
		return Warning(status.String())
	default:
		return Muted(status.String())
	}
}

// Decision renders a routing decision.
func Decision(d redirect.Decision) string {
	switch d {
	case redirect.Allow:
		return Success(d.String())
	case redirect.Pending:
		return Muted(d.String())
	default:
		return Warning(d.String())
	}
}
