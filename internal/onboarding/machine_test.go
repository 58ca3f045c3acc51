package onboarding

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	tu "github.com/desertthunder/crate/internal/testing"
)

const userID = "user-1"

func newProfiles(t *testing.T, mutate func(*models.Profile)) *tu.FakeProfiles {
	t.Helper()
	profiles := tu.NewFakeProfiles()
	p := models.DefaultProfile(models.Identity{UserID: userID, Email: "nina@example.com", DisplayName: "Nina"})
	if mutate != nil {
		mutate(&p)
	}
	profiles.Put(p)
	return profiles
}

func values(v ...string) models.StepData {
	return models.StepData{Values: v}
}

func TestStart(t *testing.T) {
	ctx := context.Background()

	t.Run("Resumes after the last completed step", func(t *testing.T) {
		profiles := newProfiles(t, func(p *models.Profile) {
			p.Apply(models.ProfilePatch{Answers: map[models.StepID]models.StepData{models.StepGenres: values("jazz")}})
			p.LastCompletedStep = models.StepGenres
		})
		m := NewMachine(DefaultSteps(), profiles, nil, nil)

		progress, err := m.Start(ctx, userID, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if progress.CurrentIndex != 1 {
			t.Errorf("expected index 1, got %d", progress.CurrentIndex)
		}
		if step, _ := progress.Current(); step != models.StepArtists {
			t.Errorf("expected artists step, got %q", step)
		}
		if !slices.Equal(progress.Data[models.StepGenres].Values, []string{"jazz"}) {
			t.Errorf("expected saved genres to hydrate, got %v", progress.Data)
		}
	})

	t.Run("New user flow ignores saved progress", func(t *testing.T) {
		profiles := newProfiles(t, func(p *models.Profile) {
			p.Apply(models.ProfilePatch{Answers: map[models.StepID]models.StepData{models.StepGenres: values("jazz")}})
			p.LastCompletedStep = models.StepGenres
		})
		m := NewMachine(DefaultSteps(), profiles, nil, nil)

		progress, err := m.Start(ctx, userID, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if progress.CurrentIndex != 0 || len(progress.Data) != 0 || !progress.IsNewUserFlow {
			t.Errorf("expected empty new-user progress, got %+v", progress)
		}
		if profiles.ReadCalls.Load() != 0 {
			t.Error("new user flow must not read the profile")
		}
	})

	t.Run("New user starts even when the store is down", func(t *testing.T) {
		profiles := newProfiles(t, nil)
		profiles.ReadErr = shared.NewPersistenceError("read profile", shared.ErrUnreachable, nil)
		m := NewMachine(DefaultSteps(), profiles, nil, nil)

		if _, err := m.Start(ctx, userID, true); err != nil {
			t.Errorf("expected new user to start, got %v", err)
		}
	})

	t.Run("Returning user gets a retryable error when the store is down", func(t *testing.T) {
		profiles := newProfiles(t, nil)
		profiles.ReadErr = errors.New("connection reset")
		m := NewMachine(DefaultSteps(), profiles, nil, nil)

		_, err := m.Start(ctx, userID, false)
		if !shared.IsRetryable(err) {
			t.Fatalf("expected retryable error, got %v", err)
		}
		var perr *shared.PersistenceError
		if !errors.As(err, &perr) {
			t.Errorf("expected PersistenceError, got %T", err)
		}
		if m.PendingWrites() != 0 || m.Progress().Steps != nil {
			t.Error("expected machine to stay inactive")
		}
	})

	t.Run("Missing profile starts at the first step", func(t *testing.T) {
		m := NewMachine(DefaultSteps(), tu.NewFakeProfiles(), nil, nil)

		progress, err := m.Start(ctx, userID, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if progress.CurrentIndex != 0 {
			t.Errorf("expected index 0, got %d", progress.CurrentIndex)
		}
	})

	t.Run("Completed profile", func(t *testing.T) {
		profiles := newProfiles(t, func(p *models.Profile) { p.OnboardingCompleted = true })
		m := NewMachine(DefaultSteps(), profiles, nil, nil)

		if _, err := m.Start(ctx, userID, false); !errors.Is(err, shared.ErrOnboardingComplete) {
			t.Errorf("expected ErrOnboardingComplete, got %v", err)
		}
	})

	t.Run("Last step completed but not finalized", func(t *testing.T) {
		profiles := newProfiles(t, func(p *models.Profile) { p.LastCompletedStep = models.StepImportLegacyRatings })
		m := NewMachine(DefaultSteps(), profiles, nil, nil)

		progress, err := m.Start(ctx, userID, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !progress.ReadyToFinalize() {
			t.Errorf("expected ready to finalize, got index %d", progress.CurrentIndex)
		}
	})

	t.Run("Unknown last step restarts", func(t *testing.T) {
		profiles := newProfiles(t, func(p *models.Profile) { p.LastCompletedStep = "favouriteVenues" })
		m := NewMachine(DefaultSteps(), profiles, nil, nil)

		progress, err := m.Start(ctx, userID, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if progress.CurrentIndex != 0 {
			t.Errorf("expected restart at 0, got %d", progress.CurrentIndex)
		}
	})

	t.Run("Intent decides the flow", func(t *testing.T) {
		profiles := newProfiles(t, func(p *models.Profile) { p.LastCompletedStep = models.StepGenres })
		intents := NewIntentStore(repositories.NewMemoryFlags())
		m := NewMachine(DefaultSteps(), profiles, intents, nil)

		progress, err := m.StartWithIntent(ctx, userID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if progress.IsNewUserFlow || progress.CurrentIndex != 1 {
			t.Errorf("expected resume without intent, got %+v", progress)
		}

		intents.MarkNeedsOnboarding(ctx)
		intents.MarkRegistration(ctx)
		progress, err = m.StartWithIntent(ctx, userID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !progress.IsNewUserFlow || progress.CurrentIndex != 0 {
			t.Errorf("expected registration to win, got %+v", progress)
		}
	})

	t.Run("Missing user id", func(t *testing.T) {
		m := NewMachine(DefaultSteps(), tu.NewFakeProfiles(), nil, nil)
		if _, err := m.Start(ctx, "", false); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestAdvance(t *testing.T) {
	ctx := context.Background()

	t.Run("Validation gate", func(t *testing.T) {
		profiles := newProfiles(t, nil)
		m := NewMachine(DefaultSteps(), profiles, nil, nil)
		m.Start(ctx, userID, true)

		_, err := m.Advance(ctx)
		if !errors.Is(err, shared.ErrStepIncomplete) {
			t.Fatalf("expected ErrStepIncomplete, got %v", err)
		}
		var verr *shared.ValidationError
		if !errors.As(err, &verr) || verr.Step != "genres" {
			t.Errorf("expected ValidationError for genres, got %v", err)
		}
		if m.Progress().CurrentIndex != 0 {
			t.Error("index must not change on validation failure")
		}
		if profiles.UpdateCalls.Load() != 0 {
			t.Error("validation failure must not write")
		}

		m.UpdateStepData(models.StepGenres, values("  ", ""))
		if _, err := m.Advance(ctx); !errors.Is(err, shared.ErrStepIncomplete) {
			t.Errorf("blank selections should not count, got %v", err)
		}
	})

	t.Run("Persists each completed step", func(t *testing.T) {
		profiles := newProfiles(t, nil)
		m := NewMachine(DefaultSteps(), profiles, nil, nil)
		m.Start(ctx, userID, true)

		m.UpdateStepData(models.StepGenres, values("Jazz", "Ambient"))
		progress, err := m.Advance(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if progress.CurrentIndex != 1 {
			t.Errorf("expected index 1, got %d", progress.CurrentIndex)
		}

		p, _ := profiles.Get(userID)
		if p.LastCompletedStep != models.StepGenres {
			t.Errorf("expected last step genres, got %q", p.LastCompletedStep)
		}
		if !slices.Equal(p.PreferredGenres, []string{"ambient", "jazz"}) {
			t.Errorf("unexpected genres %v", p.PreferredGenres)
		}

		// artists accepts zero selections
		if _, err := m.Advance(ctx); err != nil {
			t.Errorf("expected empty artists step to advance, got %v", err)
		}
	})

	t.Run("Write failure still advances and retries in order", func(t *testing.T) {
		profiles := newProfiles(t, nil)
		m := NewMachine(DefaultSteps(), profiles, nil, nil)
		m.Start(ctx, userID, true)

		profiles.FailUpdates(2)
		m.UpdateStepData(models.StepGenres, values("jazz"))
		progress, err := m.Advance(ctx)
		if !errors.Is(err, shared.ErrWriteFailed) {
			t.Fatalf("expected ErrWriteFailed, got %v", err)
		}
		if progress.CurrentIndex != 1 {
			t.Errorf("expected pointer to advance despite failure, got %d", progress.CurrentIndex)
		}

		m.UpdateStepData(models.StepArtists, values("Alice Coltrane"))
		if _, err := m.Advance(ctx); !errors.Is(err, shared.ErrWriteFailed) {
			t.Fatalf("expected second failure, got %v", err)
		}
		if m.PendingWrites() != 2 {
			t.Fatalf("expected 2 pending writes, got %d", m.PendingWrites())
		}

		if _, err := m.Advance(ctx); err != nil {
			t.Fatalf("expected queued writes to flush, got %v", err)
		}
		if m.PendingWrites() != 0 {
			t.Errorf("expected empty queue, got %d", m.PendingWrites())
		}

		var order []models.StepID
		for _, patch := range profiles.Patches() {
			order = append(order, *patch.LastCompletedStep)
		}
		want := []models.StepID{models.StepGenres, models.StepArtists, models.StepImportLegacyRatings}
		if !slices.Equal(order, want) {
			t.Errorf("expected writes in step order %v, got %v", want, order)
		}
		p, _ := profiles.Get(userID)
		if p.LastCompletedStep != models.StepImportLegacyRatings {
			t.Errorf("expected last step %q, got %q", models.StepImportLegacyRatings, p.LastCompletedStep)
		}
	})

	t.Run("Restart keeps queued writes", func(t *testing.T) {
		profiles := newProfiles(t, nil)
		m := NewMachine(DefaultSteps(), profiles, nil, nil)
		m.Start(ctx, userID, false)

		profiles.FailUpdates(1)
		m.UpdateStepData(models.StepGenres, values("jazz"))
		if _, err := m.Advance(ctx); !errors.Is(err, shared.ErrWriteFailed) {
			t.Fatalf("expected ErrWriteFailed, got %v", err)
		}

		// still failing: the write stays queued and its answer carries over
		profiles.FailUpdates(1)
		progress, err := m.Start(ctx, userID, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.PendingWrites() != 1 {
			t.Fatalf("expected the write to stay queued, got %d", m.PendingWrites())
		}
		if progress.CurrentIndex != 1 || !slices.Equal(progress.Data[models.StepGenres].Values, []string{"jazz"}) {
			t.Errorf("expected queued answer to carry over, got %+v", progress)
		}

		progress, err = m.Start(ctx, userID, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.PendingWrites() != 0 {
			t.Errorf("expected the queue to flush on restart, got %d", m.PendingWrites())
		}
		if progress.CurrentIndex != 1 {
			t.Errorf("expected to resume after genres, got %d", progress.CurrentIndex)
		}
		p, _ := profiles.Get(userID)
		if !slices.Equal(p.PreferredGenres, []string{"jazz"}) || p.LastCompletedStep != models.StepGenres {
			t.Errorf("expected genres to be saved, got %+v", p)
		}

		other := newProfiles(t, nil)
		m = NewMachine(DefaultSteps(), other, nil, nil)
		m.Start(ctx, userID, true)
		other.FailUpdates(1)
		m.UpdateStepData(models.StepGenres, values("jazz"))
		m.Advance(ctx)
		if _, err := m.Start(ctx, "user-2", true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.PendingWrites() != 0 {
			t.Errorf("expected another user's queue to be dropped, got %d", m.PendingWrites())
		}
	})

	t.Run("Past the last step", func(t *testing.T) {
		m := NewMachine([]Step{{ID: models.StepArtists}}, newProfiles(t, nil), nil, nil)
		m.Start(ctx, userID, true)
		m.Advance(ctx)

		if _, err := m.Advance(ctx); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Not started", func(t *testing.T) {
		m := NewMachine(DefaultSteps(), newProfiles(t, nil), nil, nil)
		if _, err := m.Advance(ctx); !errors.Is(err, shared.ErrOnboardingNotActive) {
			t.Errorf("expected ErrOnboardingNotActive, got %v", err)
		}
		if err := m.UpdateStepData(models.StepGenres, values("jazz")); !errors.Is(err, shared.ErrOnboardingNotActive) {
			t.Errorf("expected ErrOnboardingNotActive, got %v", err)
		}
	})
}

func TestUpdateStepDataAndBack(t *testing.T) {
	ctx := context.Background()
	profiles := newProfiles(t, nil)
	m := NewMachine(DefaultSteps(), profiles, nil, nil)
	m.Start(ctx, userID, true)

	if err := m.UpdateStepData("favouriteVenues", values("x")); !errors.Is(err, shared.ErrUnknownStep) {
		t.Errorf("expected ErrUnknownStep, got %v", err)
	}

	if p := m.Back(); p.CurrentIndex != 0 {
		t.Errorf("back at the first step should stay at 0, got %d", p.CurrentIndex)
	}

	m.UpdateStepData(models.StepGenres, values("jazz"))
	m.Advance(ctx)
	writes := profiles.UpdateCalls.Load()

	p := m.Back()
	if p.CurrentIndex != 0 {
		t.Errorf("expected index 0 after back, got %d", p.CurrentIndex)
	}
	if !slices.Equal(p.Data[models.StepGenres].Values, []string{"jazz"}) {
		t.Error("back must keep entered data")
	}
	if profiles.UpdateCalls.Load() != writes {
		t.Error("back must not write")
	}
}

func TestFinalize(t *testing.T) {
	ctx := context.Background()

	complete := func(t *testing.T, m *Machine) {
		t.Helper()
		m.UpdateStepData(models.StepGenres, values("jazz", "dub"))
		m.UpdateStepData(models.StepArtists, values("Alice Coltrane", "King Tubby"))
		for range 3 {
			if _, err := m.Advance(ctx); err != nil && !errors.Is(err, shared.ErrWriteFailed) {
				t.Fatalf("failed to advance: %v", err)
			}
		}
	}

	t.Run("Writes everything and clears intent", func(t *testing.T) {
		profiles := newProfiles(t, nil)
		store := repositories.NewMemoryFlags()
		intents := NewIntentStore(store)
		intents.MarkRegistration(ctx)
		intents.MarkNeedsOnboarding(ctx)
		m := NewMachine(DefaultSteps(), profiles, intents, nil)
		m.StartWithIntent(ctx, userID)
		complete(t, m)

		if err := m.Finalize(ctx); err != nil {
			t.Fatalf("failed to finalize: %v", err)
		}

		p, _ := profiles.Get(userID)
		if !p.OnboardingCompleted {
			t.Error("expected onboarding completed")
		}
		if !slices.Equal(p.FavoriteArtists, []string{"Alice Coltrane", "King Tubby"}) {
			t.Errorf("unexpected artists %v", p.FavoriteArtists)
		}
		last := profiles.Patches()[len(profiles.Patches())-1]
		if last.OnboardingCompleted == nil || len(last.Answers) != 2 {
			t.Errorf("expected one update carrying all data, got %+v", last)
		}

		flags, _ := intents.Load(ctx)
		if flags.Any() {
			t.Errorf("expected intent flags to be cleared, got %+v", flags)
		}
		if m.Progress().Steps != nil {
			t.Error("expected progress to be discarded")
		}
		done, err := Completed(ctx, profiles, userID)
		if err != nil || !done {
			t.Errorf("expected completion signal, got %v, %v", done, err)
		}
	})

	t.Run("Failure keeps data and flags", func(t *testing.T) {
		profiles := newProfiles(t, nil)
		store := &tu.FlakyStore{KeyValueStore: repositories.NewMemoryFlags()}
		intents := NewIntentStore(store)
		intents.MarkRegistration(ctx)
		m := NewMachine(DefaultSteps(), profiles, intents, nil)
		m.StartWithIntent(ctx, userID)
		complete(t, m)

		profiles.FailUpdates(1)
		err := m.Finalize(ctx)
		if !errors.Is(err, shared.ErrWriteFailed) {
			t.Fatalf("expected ErrWriteFailed, got %v", err)
		}
		var perr *shared.PersistenceError
		if !errors.As(err, &perr) {
			t.Errorf("expected PersistenceError, got %T", err)
		}
		if store.DeleteCalls.Load() != 0 {
			t.Error("intent flags must not be cleared on failure")
		}
		if flags, _ := intents.Load(ctx); !flags.ComingFromRegistration {
			t.Error("expected registration flag to remain")
		}
		if p := m.Progress(); !p.ReadyToFinalize() || len(p.Data[models.StepGenres].Values) != 2 {
			t.Errorf("expected in-memory data to survive, got %+v", p)
		}

		if err := m.Finalize(ctx); err != nil {
			t.Fatalf("retry failed: %v", err)
		}
		if store.DeleteCalls.Load() != 1 {
			t.Errorf("expected one atomic delete, got %d", store.DeleteCalls.Load())
		}
	})

	t.Run("Finalize also covers unsaved steps", func(t *testing.T) {
		profiles := newProfiles(t, nil)
		m := NewMachine(DefaultSteps(), profiles, nil, nil)
		m.Start(ctx, userID, true)
		profiles.FailUpdates(3)
		complete(t, m)

		if err := m.Finalize(ctx); err != nil {
			t.Fatalf("failed to finalize: %v", err)
		}
		p, _ := profiles.Get(userID)
		if !slices.Equal(p.PreferredGenres, []string{"dub", "jazz"}) || !p.OnboardingCompleted {
			t.Errorf("expected finalize to persist unsaved steps, got %+v", p)
		}
	})

	t.Run("Not ready", func(t *testing.T) {
		m := NewMachine(DefaultSteps(), newProfiles(t, nil), nil, nil)
		if err := m.Finalize(ctx); !errors.Is(err, shared.ErrOnboardingNotActive) {
			t.Errorf("expected ErrOnboardingNotActive, got %v", err)
		}
		m.Start(ctx, userID, true)
		if err := m.Finalize(ctx); !errors.Is(err, shared.ErrNotReadyToFinalize) {
			t.Errorf("expected ErrNotReadyToFinalize, got %v", err)
		}
	})
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(DefaultSteps(), newProfiles(t, nil), nil, nil)
	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	m.Start(ctx, userID, true)
	m.UpdateStepData(models.StepGenres, values("jazz"))
	m.Advance(ctx)

	if p := <-updates; p.CurrentIndex != 1 {
		t.Errorf("expected latest progress at index 1, got %d", p.CurrentIndex)
	}
}
