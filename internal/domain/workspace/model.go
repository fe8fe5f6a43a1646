package workspace

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrAccessDenied = errors.New("access denied")
	ErrValidation   = errors.New("validation failed")
)

const (
	RoleDoctor  = "doctor"
	RolePatient = "patient"
)

// Workspace is one doctor-patient care relationship. Every history record,
// summary and trend series belongs to exactly one workspace.
type Workspace struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  string    `json:"doctor_id"`
	PatientID string    `json:"patient_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership is the caller's standing in a workspace.
type Membership struct {
	Workspace *Workspace `json:"workspace"`
	ActorID   string     `json:"actor_id"`
	Role      string     `json:"role"`
}

func (m Membership) IsDoctor() bool  { return m.Role == RoleDoctor }
func (m Membership) IsPatient() bool { return m.Role == RolePatient }
