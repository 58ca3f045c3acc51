package shared

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout            = fmt.Errorf("operation timed out")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Authentication errors
	ErrInvalidCredentials   = fmt.Errorf("invalid credentials")
	ErrRegistrationRejected = fmt.Errorf("registration rejected")
	ErrUnreachable          = fmt.Errorf("service unreachable")
	ErrNotAuthenticated     = fmt.Errorf("not authenticated")
	ErrNoCredential         = fmt.Errorf("no renewable credential available")

	// Onboarding errors
	ErrStepIncomplete      = fmt.Errorf("step incomplete")
	ErrUnknownStep         = fmt.Errorf("unknown onboarding step")
	ErrNotReadyToFinalize  = fmt.Errorf("onboarding is not ready to finalize")
	ErrOnboardingComplete  = fmt.Errorf("onboarding already completed")
	ErrOnboardingNotActive = fmt.Errorf("onboarding has not been started")

	// Persistence errors
	ErrWriteFailed     = fmt.Errorf("write failed")
	ErrProfileNotFound = fmt.Errorf("profile not found")
	ErrProfileExists   = fmt.Errorf("profile already exists")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// AuthError reports a failure from the identity service.
//
// Reason is one of [ErrInvalidCredentials], [ErrRegistrationRejected], [ErrUnreachable] or [ErrNotAuthenticated].
type AuthError struct {
	Op     string
	Reason error
	Err    error
}

// NewAuthError wraps err with the given reason for operation op.
func NewAuthError(op string, reason, err error) *AuthError {
	return &AuthError{Op: op, Reason: reason, Err: err}
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Reason)
}

func (e *AuthError) Unwrap() []error {
	return nonNil(e.Reason, e.Err)
}

// ValidationError reports onboarding input that does not satisfy its step's rule.
// It never has a persisted side effect.
type ValidationError struct {
	Step   string
	Reason error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %v: %s", e.Step, e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// PersistenceError reports a failed profile store operation.
//
// Reason is [ErrWriteFailed] or [ErrProfileNotFound].
type PersistenceError struct {
	Op     string
	Reason error
	Err    error
}

// NewPersistenceError wraps err with the given reason for operation op.
func NewPersistenceError(op string, reason, err error) *PersistenceError {
	return &PersistenceError{Op: op, Reason: reason, Err: err}
}

func (e *PersistenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Reason)
}

func (e *PersistenceError) Unwrap() []error {
	return nonNil(e.Reason, e.Err)
}

// IsRetryable reports whether err is a transient failure the caller may offer to retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrWriteFailed)
}

func nonNil(errs ...error) []error {
	out := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
