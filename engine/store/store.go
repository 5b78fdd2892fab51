// Package store is the session persistence layer. The engine consumes the
// narrow SessionStore contract; the Postgres implementation owns the
// connection pool and the sessions table.
package store

import (
	"context"
	"errors"

	"github.com/speechsim/speechsim/engine/domain"
)

// ErrNotFound signals an absent session id. Callers translate it into the
// pipeline taxonomy at the call site.
var ErrNotFound = errors.New("store: session not found")

// SessionStore is the read/update contract the pipeline depends on, plus the
// CRUD surface the session endpoints expose.
type SessionStore interface {
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id int64) (*domain.SessionRecord, error)
	// UpdateAudio replaces only the audio column, leaving every other
	// field untouched. Returns ErrNotFound for absent ids.
	UpdateAudio(ctx context.Context, id int64, audioB64 string) error
	// Create inserts a new session and returns it with id and created_at
	// populated.
	Create(ctx context.Context, rec *domain.SessionRecord) (*domain.SessionRecord, error)
	// Delete removes a session or returns ErrNotFound.
	Delete(ctx context.Context, id int64) error
	// List returns sessions ordered by id, newest first.
	List(ctx context.Context, limit, offset int) ([]domain.SessionRecord, error)
	// Exists reports whether the id is present.
	Exists(ctx context.Context, id int64) (bool, error)
}
