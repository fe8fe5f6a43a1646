package timeline

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventAdded    = "added"
	EventUpdated  = "updated"
	EventVerified = "verified"
	EventResolved = "resolved"
	EventFlagged  = "flagged"
	EventDeleted  = "deleted"
)

const (
	RoleDoctor  = "doctor"
	RolePatient = "patient"
	RoleSystem  = "system"
)

var validEventTypes = map[string]bool{
	EventAdded: true, EventUpdated: true, EventVerified: true,
	EventResolved: true, EventFlagged: true, EventDeleted: true,
}

var validRoles = map[string]bool{
	RoleDoctor: true, RolePatient: true, RoleSystem: true,
}

// Event is one immutable entry of a record's audit trail. Seq is assigned by
// the store and orders events by insertion.
type Event struct {
	ID              uuid.UUID      `json:"id"`
	Seq             int64          `json:"seq"`
	RecordID        uuid.UUID      `json:"record_id"`
	WorkspaceID     uuid.UUID      `json:"workspace_id"`
	EventType       string         `json:"event_type"`
	Description     string         `json:"description"`
	PerformedBy     string         `json:"performed_by"`
	PerformedByRole string         `json:"performed_by_role"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}
