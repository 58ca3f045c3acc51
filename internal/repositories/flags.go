package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/crate/internal/models"
)

var (
	_ models.KeyValueStore = (*FlagRepository)(nil)
	_ models.KeyValueStore = (*MemoryFlags)(nil)
)

// FlagRepository is the durable [models.KeyValueStore], backed by the flags table.
type FlagRepository struct {
	db *sql.DB
}

// NewFlagRepository creates a new [FlagRepository] with the given database connection
func NewFlagRepository(db *sql.DB) *FlagRepository {
	return &FlagRepository{db: db}
}

// Get returns the value stored under key.
func (r *FlagRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM flags WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read flag %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts value under key.
func (r *FlagRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO flags (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to write flag %s: %w", key, err)
	}
	return nil
}

// Delete removes keys with a single statement.
func (r *FlagRepository) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM flags WHERE key IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to delete flags: %w", err)
	}
	return nil
}

// MemoryFlags is an in-process [models.KeyValueStore]. Values live as long as the process,
// which makes it the per-tab store for navigation intent.
type MemoryFlags struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryFlags creates an empty [MemoryFlags].
func NewMemoryFlags() *MemoryFlags {
	return &MemoryFlags{values: make(map[string]string)}
}

func (m *MemoryFlags) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryFlags) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryFlags) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}
