package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/desertthunder/crate/internal/models"
)

// CredentialCache keeps the renewable credential in the durable key-value store.
type CredentialCache struct {
	store models.KeyValueStore
	key   string
}

// NewCredentialCache stores the credential under "<namespace>:session:credential".
func NewCredentialCache(store models.KeyValueStore, namespace string) *CredentialCache {
	return &CredentialCache{store: store, key: namespace + ":session:credential"}
}

// Key returns the store key the credential lives under.
func (c *CredentialCache) Key() string { return c.key }

// Load returns the cached credential, or nil when none is cached.
//
// An unreadable entry is removed and reported as absent along with the decode error.
func (c *CredentialCache) Load(ctx context.Context) (*models.RenewableCredential, error) {
	raw, ok, err := c.store.Get(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var cred models.RenewableCredential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		_ = c.store.Delete(ctx, c.key)
		return nil, fmt.Errorf("discarded unreadable credential: %w", err)
	}
	if !cred.Valid() {
		return nil, nil
	}
	return &cred, nil
}

// Save replaces the cached credential.
func (c *CredentialCache) Save(ctx context.Context, cred *models.RenewableCredential) error {
	if !cred.Valid() {
		return c.Clear(ctx)
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	if err := c.store.Set(ctx, c.key, string(data)); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Clear removes the cached credential.
func (c *CredentialCache) Clear(ctx context.Context) error {
	if err := c.store.Delete(ctx, c.key); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}
