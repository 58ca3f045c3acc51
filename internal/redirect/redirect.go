// Package redirect decides where routing glue should send a navigation.
package redirect

import "github.com/desertthunder/crate/internal/models"

// View classifies the navigation target.
type View int

const (
	ViewPublic View = iota
	ViewProtected
	ViewOnboarding
)

func (v View) String() string {
	switch v {
	case ViewPublic:
		return "public"
	case ViewProtected:
		return "protected"
	case ViewOnboarding:
		return "onboarding"
	default:
		return ""
	}
}

// ParseView maps a view name onto a [View].
func ParseView(name string) (View, bool) {
	switch name {
	case "public":
		return ViewPublic, true
	case "protected":
		return ViewProtected, true
	case "onboarding":
		return ViewOnboarding, true
	default:
		return 0, false
	}
}

// Decision is the outcome of [Decide].
type Decision int

const (
	Allow Decision = iota
	ToLogin
	ToOnboarding
	// Pending means the session is still resolving: show a loading affordance and do not redirect.
	Pending
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case ToLogin:
		return "login"
	case ToOnboarding:
		return "onboarding"
	case Pending:
		return "pending"
	default:
		return ""
	}
}

// Input is everything [Decide] looks at.
type Input struct {
	Session             models.Session
	OnboardingCompleted bool
	Intent              models.IntentFlags
	Target              View
}

// Decide applies the redirect policy. It has no side effects.
func Decide(in Input) Decision {
	switch in.Session.Status {
	case models.StatusUninitialized, models.StatusChecking, models.StatusRecovering:
		return Pending
	case models.StatusFailed:
		if in.Target != ViewPublic {
			return Pending
		}
		return Allow
	case models.StatusAnonymous:
		switch in.Target {
		case ViewPublic:
			return Allow
		case ViewOnboarding:
			if in.Intent.Any() {
				return Allow
			}
		}
		return ToLogin
	case models.StatusAuthenticated:
		if !in.OnboardingCompleted && in.Target != ViewOnboarding {
			return ToOnboarding
		}
		return Allow
	default:
		return Allow
	}
}
