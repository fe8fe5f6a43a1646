// Package events carries workspace-changed signals from the write path to the
// insight worker. Two transports exist: a Redis stream consumed through a
// consumer group, and an in-process buffered channel used when no Redis URL
// is configured.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Reasons attached to a workspace change.
const (
	ReasonRecordAdded    = "record_added"
	ReasonRecordUpdated  = "record_updated"
	ReasonRecordVerified = "record_verified"
	ReasonRecordDeleted  = "record_deleted"
	ReasonImported       = "imported"
)

// WorkspaceChanged is published after a ledger mutation commits.
type WorkspaceChanged struct {
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Reason      string    `json:"reason"`
	ActorID     string    `json:"actor_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher emits workspace-changed signals. Publishing is best effort: a
// failure is reported but never rolls back the mutation that caused it.
type Publisher interface {
	Publish(ctx context.Context, ev WorkspaceChanged) error
}

// Handler processes one signal.
type Handler func(ctx context.Context, ev WorkspaceChanged) error

// Consumer delivers signals to a handler until ctx is cancelled.
type Consumer interface {
	Run(ctx context.Context, h Handler) error
}

// Bus is a transport that both publishes and consumes.
type Bus interface {
	Publisher
	Consumer
	Close() error
}

// Nop discards every signal.
type Nop struct{}

func (Nop) Publish(context.Context, WorkspaceChanged) error { return nil }
