package repositories

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/redis/go-redis/v9"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func testIdentity() models.Identity {
	return models.Identity{UserID: "user-1", Email: "nina@example.com", DisplayName: "Nina"}
}

func TestProfileRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create and Read", func(t *testing.T) {
		repo := NewProfileRepository(setupTestDB(t))

		created, err := repo.CreateProfile(ctx, "user-1", models.DefaultProfile(testIdentity()))
		if err != nil {
			t.Fatalf("failed to create profile: %v", err)
		}
		if created.CreatedAt.IsZero() {
			t.Error("created_at should be set")
		}

		read, err := repo.ReadProfile(ctx, "user-1")
		if err != nil {
			t.Fatalf("failed to read profile: %v", err)
		}
		if read.DisplayName != "Nina" || read.Email != "nina@example.com" {
			t.Errorf("unexpected profile %+v", read)
		}
		if read.OnboardingCompleted || read.LastCompletedStep != "" {
			t.Error("new profile should have no onboarding progress")
		}
		if read.Answers == nil || read.PreferredGenres == nil {
			t.Error("list columns should decode to empty values")
		}
	})

	t.Run("Read missing profile", func(t *testing.T) {
		repo := NewProfileRepository(setupTestDB(t))

		_, err := repo.ReadProfile(ctx, "nobody")
		if !errors.Is(err, shared.ErrProfileNotFound) {
			t.Fatalf("expected ErrProfileNotFound, got %v", err)
		}
	})

	t.Run("Duplicate create", func(t *testing.T) {
		repo := NewProfileRepository(setupTestDB(t))

		if _, err := repo.CreateProfile(ctx, "user-1", models.DefaultProfile(testIdentity())); err != nil {
			t.Fatalf("failed to create profile: %v", err)
		}

		other := models.DefaultProfile(testIdentity())
		other.DisplayName = "Impostor"
		_, err := repo.CreateProfile(ctx, "user-1", other)
		if !errors.Is(err, shared.ErrProfileExists) {
			t.Fatalf("expected ErrProfileExists, got %v", err)
		}

		read, err := repo.ReadProfile(ctx, "user-1")
		if err != nil {
			t.Fatalf("failed to read profile: %v", err)
		}
		if read.DisplayName != "Nina" {
			t.Errorf("duplicate create overwrote profile: %q", read.DisplayName)
		}
	})

	t.Run("Concurrent creates leave one row", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewProfileRepository(db)

		var wg sync.WaitGroup
		var mu sync.Mutex
		successes := 0
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.CreateProfile(ctx, "user-1", models.DefaultProfile(testIdentity())); err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if successes != 1 {
			t.Errorf("expected exactly one successful create, got %d", successes)
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM profiles WHERE user_id = ?", "user-1").Scan(&count); err != nil {
			t.Fatalf("failed to count profiles: %v", err)
		}
		if count != 1 {
			t.Errorf("expected one profile row, got %d", count)
		}
	})

	t.Run("Update applies step answers", func(t *testing.T) {
		repo := NewProfileRepository(setupTestDB(t))
		if _, err := repo.CreateProfile(ctx, "user-1", models.DefaultProfile(testIdentity())); err != nil {
			t.Fatalf("failed to create profile: %v", err)
		}

		step := models.StepGenres
		updated, err := repo.UpdateProfile(ctx, "user-1", models.ProfilePatch{
			Answers:           map[models.StepID]models.StepData{models.StepGenres: {Values: []string{"Jazz", "ambient"}}},
			LastCompletedStep: &step,
		})
		if err != nil {
			t.Fatalf("failed to update profile: %v", err)
		}
		if updated.LastCompletedStep != models.StepGenres {
			t.Errorf("expected last step genres, got %q", updated.LastCompletedStep)
		}

		read, err := repo.ReadProfile(ctx, "user-1")
		if err != nil {
			t.Fatalf("failed to read profile: %v", err)
		}
		if !slices.Equal(read.PreferredGenres, []string{"ambient", "jazz"}) {
			t.Errorf("unexpected genres %v", read.PreferredGenres)
		}
		if !slices.Equal(read.Answers[models.StepGenres], []string{"ambient", "jazz"}) {
			t.Errorf("unexpected answers %v", read.Answers)
		}
		if read.LastCompletedStep != models.StepGenres {
			t.Errorf("expected persisted last step genres, got %q", read.LastCompletedStep)
		}

		done := true
		if _, err := repo.UpdateProfile(ctx, "user-1", models.ProfilePatch{OnboardingCompleted: &done}); err != nil {
			t.Fatalf("failed to complete onboarding: %v", err)
		}
		read, _ = repo.ReadProfile(ctx, "user-1")
		if !read.OnboardingCompleted {
			t.Error("expected onboarding completed")
		}
		if !slices.Equal(read.PreferredGenres, []string{"ambient", "jazz"}) {
			t.Error("completion patch should keep earlier answers")
		}
	})

	t.Run("Update missing profile", func(t *testing.T) {
		repo := NewProfileRepository(setupTestDB(t))

		_, err := repo.UpdateProfile(ctx, "nobody", models.ProfilePatch{})
		if !errors.Is(err, shared.ErrProfileNotFound) {
			t.Fatalf("expected ErrProfileNotFound, got %v", err)
		}
		var perr *shared.PersistenceError
		if !errors.As(err, &perr) {
			t.Errorf("expected PersistenceError, got %T", err)
		}
	})

	t.Run("Update on closed database is a write failure", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewProfileRepository(db)
		db.Close()

		_, err := repo.UpdateProfile(ctx, "user-1", models.ProfilePatch{})
		if !errors.Is(err, shared.ErrWriteFailed) {
			t.Fatalf("expected ErrWriteFailed, got %v", err)
		}
	})
}

func TestKeyValueStores(t *testing.T) {
	ctx := context.Background()

	stores := map[string]func(t *testing.T) models.KeyValueStore{
		"sqlite": func(t *testing.T) models.KeyValueStore {
			return NewFlagRepository(setupTestDB(t))
		},
		"memory": func(t *testing.T) models.KeyValueStore {
			return NewMemoryFlags()
		},
		"redis": func(t *testing.T) models.KeyValueStore {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedisFlags(client, 0)
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			t.Run("Get missing key", func(t *testing.T) {
				store := newStore(t)
				_, ok, err := store.Get(ctx, "crate:missing")
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if ok {
					t.Error("expected missing key")
				}
			})

			t.Run("Set overwrites", func(t *testing.T) {
				store := newStore(t)
				if err := store.Set(ctx, "crate:needs_onboarding", "1"); err != nil {
					t.Fatalf("failed to set: %v", err)
				}
				if err := store.Set(ctx, "crate:needs_onboarding", "2"); err != nil {
					t.Fatalf("failed to overwrite: %v", err)
				}
				v, ok, err := store.Get(ctx, "crate:needs_onboarding")
				if err != nil || !ok || v != "2" {
					t.Errorf("expected 2, got %q (%v, %v)", v, ok, err)
				}
			})

			t.Run("Delete several keys", func(t *testing.T) {
				store := newStore(t)
				for _, k := range []string{"a", "b", "c"} {
					if err := store.Set(ctx, k, "1"); err != nil {
						t.Fatalf("failed to set %s: %v", k, err)
					}
				}
				if err := store.Delete(ctx, "a", "b", "missing"); err != nil {
					t.Fatalf("failed to delete: %v", err)
				}
				for k, want := range map[string]bool{"a": false, "b": false, "c": true} {
					if _, ok, _ := store.Get(ctx, k); ok != want {
						t.Errorf("key %s present=%v, want %v", k, ok, want)
					}
				}
				if err := store.Delete(ctx); err != nil {
					t.Errorf("empty delete should succeed: %v", err)
				}
			})
		})
	}

	t.Run("redis ttl expires values", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		store := NewRedisFlags(client, time.Minute)

		if err := store.Set(ctx, "crate:registration_complete", "1"); err != nil {
			t.Fatalf("failed to set: %v", err)
		}
		mr.FastForward(2 * time.Minute)

		if _, ok, _ := store.Get(ctx, "crate:registration_complete"); ok {
			t.Error("expected flag to expire")
		}
	})

	t.Run("NewRedisClient", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := NewRedisClient(ctx, "redis://"+mr.Addr()+"/0")
		if err != nil {
			t.Fatalf("failed to connect: %v", err)
		}
		client.Close()

		if _, err := NewRedisClient(ctx, "not a url"); err == nil {
			t.Error("expected error for malformed URL")
		}
	})
}
