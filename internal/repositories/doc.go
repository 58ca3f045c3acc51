// Package repositories implements persistence for profiles and local flags.
//
// Key Implementations:
//   - [ProfileRepository] : SQLite profile store; one row per user id, enforced by the primary key
//   - [FlagRepository] : durable SQLite key-value store for session flags and the renewable credential
//   - [MemoryFlags] : per-process key-value store for short-lived navigation-intent flags
//   - [RedisFlags] : hosted key-value store with optional expiry, interchangeable with the above
//
// Profile list columns (genres, artists, per-step answers) are stored as JSON text.
// Multi-key deletes are atomic in every store so navigation-intent flags clear together.
package repositories
