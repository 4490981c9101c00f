// Package roomstore defines the document-store contract the
// coordination core runs against: single-document reads, narrow
// field-path writes, a filtered query, and change subscriptions. There
// are no cross-document transactions; every caller is expected to
// re-validate on the next observed snapshot instead of locking.
package roomstore

import (
	"context"
	"errors"

	"github.com/kritsadaz/sketchduel/go/internal/models"
)

var (
	// ErrNotFound signals the room was deleted concurrently. Callers
	// treat it as a normal abort signal, never a failure.
	ErrNotFound = errors.New("room not found")
	// ErrUnavailable signals a backend or network failure.
	ErrUnavailable = errors.New("room store unavailable")
)

// Query filters the room collection. Zero values mean "no constraint".
type Query struct {
	Status           models.Status
	CreatedAfter     int64 // unix ms, exclusive
	CreatedBefore    int64 // unix ms, exclusive
	Player1Online    *bool
	Player1Searching *bool
	Limit            int
}

// Snapshot is one observed state of a room. Deleted snapshots carry a
// nil Room. Subscribers may see coalesced snapshots, never stale ones,
// so every decision must be derivable from the latest snapshot alone.
type Snapshot struct {
	ID      string
	Room    *models.Room
	Deleted bool
}

// UnsubscribeFunc stops a subscription. Safe to call more than once.
type UnsubscribeFunc func()

// Store is the shared session store contract.
type Store interface {
	// Create stores a new room and returns its assigned id.
	Create(ctx context.Context, room *models.Room) (string, error)

	// Get returns the current document, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Room, error)

	// Update applies the given dotted field paths atomically to one
	// document. Unknown paths are rejected.
	Update(ctx context.Context, id string, fields map[string]any) error

	// Delete removes the document. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// Query returns at most q.Limit matching rooms, each with ID set.
	Query(ctx context.Context, q Query) ([]*models.Room, error)

	// Subscribe pushes the latest snapshot to fn whenever the document
	// changes, starting with the current state. Callbacks for one
	// subscription are delivered sequentially.
	Subscribe(ctx context.Context, id string, fn func(Snapshot)) (UnsubscribeFunc, error)

	// IncrementField adds delta to a numeric field without a
	// read-modify-write on the caller's side.
	IncrementField(ctx context.Context, id string, path string, delta int64) error
}

// Matches reports whether a room satisfies every predicate in q. Store
// implementations without server-side filtering evaluate it client-side.
func Matches(room *models.Room, q Query) bool {
	if q.Status != "" && room.Status != q.Status {
		return false
	}
	if q.CreatedAfter != 0 && room.CreatedAt <= q.CreatedAfter {
		return false
	}
	if q.CreatedBefore != 0 && room.CreatedAt >= q.CreatedBefore {
		return false
	}
	if q.Player1Online != nil {
		if room.Player1 == nil || room.Player1.Online != *q.Player1Online {
			return false
		}
	}
	if q.Player1Searching != nil {
		if room.Player1 == nil || room.Player1.IsSearching != *q.Player1Searching {
			return false
		}
	}
	return true
}

// Bool returns a pointer for query predicate literals.
func Bool(v bool) *bool {
	return &v
}
