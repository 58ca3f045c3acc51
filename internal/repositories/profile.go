package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

const profileColumns = `user_id, display_name, email, bio, preferred_genres, favorite_artists, answers,
	onboarding_completed, last_completed_step, created_at, updated_at`

// ProfileRepository implements [services.ProfileStore] on SQLite.
type ProfileRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewProfileRepository creates a new [ProfileRepository] with the given database connection
func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db, now: time.Now}
}

// ReadProfile retrieves the profile for userID.
func (r *ProfileRepository) ReadProfile(ctx context.Context, userID string) (*models.Profile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID)

	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.NewPersistenceError("read profile", shared.ErrProfileNotFound, fmt.Errorf("user %s", userID))
	}
	if err != nil {
		return nil, shared.NewPersistenceError("read profile", shared.ErrUnreachable, err)
	}
	return profile, nil
}

// CreateProfile inserts the profile for userID built from defaults.
//
// A second create for the same user fails with [shared.ErrProfileExists] and leaves the first row intact.
func (r *ProfileRepository) CreateProfile(ctx context.Context, userID string, defaults models.Profile) (*models.Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}

	profile := defaults.Clone()
	profile.UserID = userID
	profile.CreatedAt = r.now()
	profile.UpdatedAt = profile.CreatedAt

	args, err := profileArgs(&profile)
	if err != nil {
		return nil, shared.NewPersistenceError("create profile", shared.ErrWriteFailed, err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, args...)
	if err != nil {
		return nil, shared.NewPersistenceError("create profile", shared.ErrWriteFailed, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, shared.NewPersistenceError("create profile", shared.ErrWriteFailed, err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("create profile for %s: %w", userID, shared.ErrProfileExists)
	}

	return &profile, nil
}

// UpdateProfile applies patch to the stored profile inside a transaction.
func (r *ProfileRepository) UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) (*models.Profile, error) {
	var updated *models.Profile

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID)
		profile, err := scanProfile(row)
		if errors.Is(err, sql.ErrNoRows) {
			return shared.NewPersistenceError("update profile", shared.ErrProfileNotFound, fmt.Errorf("user %s", userID))
		}
		if err != nil {
			return err
		}

		profile.Apply(patch)
		profile.UpdatedAt = r.now()

		args, err := profileArgs(profile)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE profiles
			SET display_name = ?, email = ?, bio = ?, preferred_genres = ?, favorite_artists = ?, answers = ?,
				onboarding_completed = ?, last_completed_step = ?, updated_at = ?
			WHERE user_id = ?
		`, append(slices.Clone(args[1:9]), args[10], userID)...)
		if err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}

		updated = profile
		return nil
	})

	var perr *shared.PersistenceError
	switch {
	case err == nil:
		return updated, nil
	case errors.As(err, &perr):
		return nil, err
	default:
		return nil, shared.NewPersistenceError("update profile", shared.ErrWriteFailed, err)
	}
}

// profileArgs returns the column values of p in [profileColumns] order.
func profileArgs(p *models.Profile) ([]any, error) {
	genres, err := encodeJSON(nonNilSlice(p.PreferredGenres))
	if err != nil {
		return nil, err
	}
	artists, err := encodeJSON(nonNilSlice(p.FavoriteArtists))
	if err != nil {
		return nil, err
	}
	answers := p.Answers
	if answers == nil {
		answers = map[models.StepID][]string{}
	}
	answersJSON, err := encodeJSON(answers)
	if err != nil {
		return nil, err
	}

	return []any{
		p.UserID, p.DisplayName, p.Email, p.Bio, genres, artists, answersJSON,
		p.OnboardingCompleted, string(p.LastCompletedStep), p.CreatedAt, p.UpdatedAt,
	}, nil
}

func scanProfile(row *sql.Row) (*models.Profile, error) {
	var (
		p                       models.Profile
		genres, artists, answer string
		lastStep                string
	)

	err := row.Scan(&p.UserID, &p.DisplayName, &p.Email, &p.Bio, &genres, &artists, &answer,
		&p.OnboardingCompleted, &lastStep, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(genres, &p.PreferredGenres); err != nil {
		return nil, err
	}
	if err := decodeJSON(artists, &p.FavoriteArtists); err != nil {
		return nil, err
	}
	if err := decodeJSON(answer, &p.Answers); err != nil {
		return nil, err
	}
	if p.Answers == nil {
		p.Answers = map[models.StepID][]string{}
	}
	p.LastCompletedStep = models.StepID(lastStep)

	return &p, nil
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
