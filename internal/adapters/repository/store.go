// Package repository defines the session store interface and errors.
package repository

import (
	"context"

	"github.com/okian/caretd/internal/domain/session"
)

// Store tracks live editing sessions by id.
type Store interface {
	// Put adds s. It fails with ErrExists if the id is taken and with
	// ErrCapacity when the store is full.
	Put(ctx context.Context, s *session.Session) error

	// Get returns the session for id or ErrNotFound.
	Get(ctx context.Context, id string) (*session.Session, error)

	// Delete removes and returns the session for id or ErrNotFound.
	Delete(ctx context.Context, id string) (*session.Session, error)

	// List returns every session ordered by id.
	List(ctx context.Context) []*session.Session

	// Count returns the number of sessions.
	Count(ctx context.Context) int
}
