package onboarding

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/shared"
)

// stepWrite is a completed step whose write has not reached the profile store yet.
type stepWrite struct {
	step models.StepID
	data models.StepData
}

// Machine is the onboarding state machine for one user at a time.
type Machine struct {
	steps    []Step
	profiles services.ProfileStore
	intents  *IntentStore
	logger   *log.Logger

	// opMu serializes operations; mu guards the fields below it.
	opMu sync.Mutex

	mu       sync.Mutex
	active   bool
	userID   string
	progress models.OnboardingProgress
	pending  []stepWrite

	updates shared.Broadcaster[models.OnboardingProgress]
}

// NewMachine creates a machine over steps. intents may be nil when no navigation-intent store is available.
func NewMachine(steps []Step, profiles services.ProfileStore, intents *IntentStore, logger *log.Logger) *Machine {
	if len(steps) == 0 {
		steps = DefaultSteps()
	}
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Machine{
		steps:    slices.Clone(steps),
		profiles: profiles,
		intents:  intents,
		logger:   shared.WithLogger(logger, "component", "onboarding"),
	}
}

// Progress returns a snapshot of the in-memory progress.
func (m *Machine) Progress() models.OnboardingProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress.Clone()
}

// Subscribe returns a channel carrying the latest progress after every change.
func (m *Machine) Subscribe() (<-chan models.OnboardingProgress, func()) {
	return m.updates.Subscribe()
}

// PendingWrites returns the number of completed steps not yet persisted.
func (m *Machine) PendingWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Start begins onboarding for userID.
//
// A new-user flow starts empty at the first step without reading the profile. Otherwise progress
// resumes after the profile's last completed step with its saved answers. A profile that cannot
// be read yields a retryable error; a profile that has not been created yet starts at the first step.
//
// Step writes still queued from an earlier Start for the same user are flushed first. Any that
// still fail stay queued and their answers carry over into the new progress.
func (m *Machine) Start(ctx context.Context, userID string, isNewUserFlow bool) (models.OnboardingProgress, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if userID == "" {
		return models.OnboardingProgress{}, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}

	carried := m.carryPending(ctx, userID)

	progress := models.OnboardingProgress{
		Steps:         stepIDs(m.steps),
		Data:          make(map[models.StepID]models.StepData),
		IsNewUserFlow: isNewUserFlow,
	}

	if !isNewUserFlow {
		profile, err := m.profiles.ReadProfile(ctx, userID)
		switch {
		case errors.Is(err, shared.ErrProfileNotFound):
			m.logger.Debug("no profile yet, starting at the first step", "user", userID)
		case err != nil:
			m.logger.Error("failed to read profile", "user", userID, "err", err)
			if shared.IsRetryable(err) {
				return models.OnboardingProgress{}, fmt.Errorf("failed to resume onboarding: %w", err)
			}
			return models.OnboardingProgress{}, shared.NewPersistenceError("start onboarding", shared.ErrUnreachable, err)
		case profile.OnboardingCompleted:
			return models.OnboardingProgress{}, shared.ErrOnboardingComplete
		default:
			progress.CurrentIndex = m.resumeIndex(profile.LastCompletedStep)
			for step, data := range profile.StepData() {
				if slices.Contains(progress.Steps, step) {
					progress.Data[step] = data
				}
			}
		}
	}

	for _, w := range carried {
		if i := slices.Index(progress.Steps, w.step); i >= 0 {
			progress.Data[w.step] = models.StepData{Values: slices.Clone(w.data.Values)}
			progress.CurrentIndex = max(progress.CurrentIndex, i+1)
		}
	}

	m.mu.Lock()
	m.active = true
	m.userID = userID
	m.progress = progress
	m.pending = carried
	m.mu.Unlock()

	m.logger.Info("onboarding started", "user", userID, "new_user", isNewUserFlow, "index", progress.CurrentIndex)
	m.publish()
	return progress.Clone(), nil
}

// carryPending retries the writes queued for userID and returns those that still fail.
// Writes queued for another user are dropped.
func (m *Machine) carryPending(ctx context.Context, userID string) []stepWrite {
	m.mu.Lock()
	same := m.userID == userID
	queued := len(m.pending)
	if !same {
		m.pending = nil
	}
	m.mu.Unlock()

	if !same || queued == 0 {
		return nil
	}
	if err := m.flush(ctx, userID); err != nil {
		m.logger.Warn("queued step writes still failing", "user", userID, "err", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.pending)
}

// StartWithIntent starts onboarding with the new-user flow taken from the stored navigation intent.
func (m *Machine) StartWithIntent(ctx context.Context, userID string) (models.OnboardingProgress, error) {
	var flags models.IntentFlags
	if m.intents != nil {
		var err error
		if flags, err = m.intents.Load(ctx); err != nil {
			m.logger.Warn("navigation intent unavailable", "err", err)
		}
	}
	return m.Start(ctx, userID, flags.Intent() == models.IntentFromRegistration)
}

// resumeIndex returns the index after last. A step that is no longer configured restarts the wizard.
func (m *Machine) resumeIndex(last models.StepID) int {
	if last == "" {
		return 0
	}
	i := slices.IndexFunc(m.steps, func(s Step) bool { return s.ID == last })
	if i < 0 {
		m.logger.Warn("last completed step is not configured, restarting", "step", last)
		return 0
	}
	return i + 1
}

// UpdateStepData replaces the values held for stepID. Nothing is persisted.
func (m *Machine) UpdateStepData(stepID models.StepID, data models.StepData) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return shared.ErrOnboardingNotActive
	}
	if !slices.Contains(m.progress.Steps, stepID) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", shared.ErrUnknownStep, stepID)
	}
	m.progress.Data[stepID] = models.StepData{Values: slices.Clone(data.Values)}
	m.mu.Unlock()

	m.publish()
	return nil
}

// Advance validates the current step, persists it and moves to the next one.
//
// An invalid step returns a [*shared.ValidationError] and changes nothing. A failed write returns a
// [*shared.PersistenceError] but the step still advances; the write is queued and retried.
func (m *Machine) Advance(ctx context.Context) (models.OnboardingProgress, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return models.OnboardingProgress{}, shared.ErrOnboardingNotActive
	}
	idx := m.progress.CurrentIndex
	if idx >= len(m.steps) {
		progress := m.progress.Clone()
		m.mu.Unlock()
		return progress, fmt.Errorf("%w: every step is complete", shared.ErrInvalidInput)
	}
	step := m.steps[idx]
	data := models.StepData{Values: slices.Clone(m.progress.Data[step.ID].Values)}
	userID := m.userID
	m.mu.Unlock()

	if err := step.Validate(data); err != nil {
		m.logger.Debug("step rejected", "step", step.ID, "err", err)
		return m.Progress(), err
	}

	m.enqueue(stepWrite{step: step.ID, data: data})
	writeErr := m.flush(ctx, userID)

	m.mu.Lock()
	m.progress.CurrentIndex++
	progress := m.progress.Clone()
	m.mu.Unlock()

	m.publish()
	return progress, writeErr
}

// enqueue appends w, replacing an older queued write for the same step.
func (m *Machine) enqueue(w stepWrite) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = slices.DeleteFunc(m.pending, func(p stepWrite) bool { return p.step == w.step })
	m.pending = append(m.pending, w)
}

// flush writes queued steps in order, stopping at the first failure.
func (m *Machine) flush(ctx context.Context, userID string) error {
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return nil
		}
		w := m.pending[0]
		m.mu.Unlock()

		step := w.step
		_, err := m.profiles.UpdateProfile(ctx, userID, models.ProfilePatch{
			Answers:           map[models.StepID]models.StepData{w.step: w.data},
			LastCompletedStep: &step,
		})
		if err != nil {
			m.logger.Warn("step write failed, will retry", "user", userID, "step", w.step, "err", err)
			return persistenceError("save step", err)
		}

		m.mu.Lock()
		m.pending = m.pending[1:]
		m.mu.Unlock()
		m.logger.Debug("step saved", "user", userID, "step", w.step)
	}
}

// Back returns to the previous step. Nothing is persisted.
func (m *Machine) Back() models.OnboardingProgress {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	moved := m.active && m.progress.CurrentIndex > 0
	if moved {
		m.progress.CurrentIndex--
	}
	progress := m.progress.Clone()
	m.mu.Unlock()

	if moved {
		m.publish()
	}
	return progress
}

// Finalize writes every answer and marks onboarding complete in one update, then clears the
// navigation-intent flags and discards the in-memory progress.
//
// On failure the progress is kept so the caller can retry.
func (m *Machine) Finalize(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return shared.ErrOnboardingNotActive
	}
	if !m.progress.ReadyToFinalize() {
		m.mu.Unlock()
		return fmt.Errorf("%w: at step %d of %d", shared.ErrNotReadyToFinalize, m.progress.CurrentIndex+1, len(m.steps))
	}
	userID := m.userID
	answers := m.progress.Clone().Data
	m.mu.Unlock()

	done := true
	last := m.steps[len(m.steps)-1].ID
	if _, err := m.profiles.UpdateProfile(ctx, userID, models.ProfilePatch{
		Answers:             answers,
		LastCompletedStep:   &last,
		OnboardingCompleted: &done,
	}); err != nil {
		m.logger.Error("failed to finalize onboarding", "user", userID, "err", err)
		return persistenceError("finalize onboarding", err)
	}

	if m.intents != nil {
		if err := m.intents.Clear(ctx); err != nil {
			m.logger.Warn("onboarding finalized but intent flags remain", "user", userID, "err", err)
		}
	}

	m.mu.Lock()
	m.active = false
	m.userID = ""
	m.progress = models.OnboardingProgress{}
	m.pending = nil
	m.mu.Unlock()

	m.logger.Info("onboarding completed", "user", userID)
	m.publish()
	return nil
}

func (m *Machine) publish() {
	m.updates.Publish(m.Progress())
}

// persistenceError returns err as a [*shared.PersistenceError], wrapping it as a write failure if needed.
func persistenceError(op string, err error) error {
	var perr *shared.PersistenceError
	if errors.As(err, &perr) {
		return err
	}
	return shared.NewPersistenceError(op, shared.ErrWriteFailed, err)
}
