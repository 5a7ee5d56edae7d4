package session

import (
	"context"
	"errors"
	"fmt"

	"hsa-planner/internal/model"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionConflict = errors.New("session was modified concurrently")
)

// ConflictError is returned when a save is based on a stale revision. The
// caller should reload the session and resubmit.
type ConflictError struct {
	SessionID string
	Expected  uint64
	Actual    uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %s: expected revision %d, found %d", e.SessionID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error {
	return ErrSessionConflict
}

// Store persists conversation states keyed by session id.
type Store interface {
	Load(ctx context.Context, sessionID string) (model.ConversationState, error)
	// Save writes state only if the stored revision equals expected. An
	// expected revision of 0 means the session must not exist yet.
	Save(ctx context.Context, state model.ConversationState, expected uint64) error
	Close() error
}
