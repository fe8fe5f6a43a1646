package workspace

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Service resolves care relationships and answers "may this actor touch
// this workspace, and as whom".
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, doctorID, patientID string) (*Workspace, error) {
	doctorID = strings.TrimSpace(doctorID)
	patientID = strings.TrimSpace(patientID)
	if doctorID == "" || patientID == "" {
		return nil, fmt.Errorf("%w: doctor_id and patient_id are required", ErrValidation)
	}
	if doctorID == patientID {
		return nil, fmt.Errorf("%w: doctor and patient must differ", ErrValidation)
	}
	w := &Workspace{DoctorID: doctorID, PatientID: patientID}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Workspace, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*Workspace, error) {
	return s.repo.List(ctx)
}

// Authorize returns the actor's role in the workspace. Actors that are
// neither doctor nor patient of record get ErrAccessDenied.
func (s *Service) Authorize(ctx context.Context, workspaceID uuid.UUID, actorID string) (Membership, error) {
	if actorID == "" {
		return Membership{}, fmt.Errorf("%w: no authenticated actor", ErrAccessDenied)
	}
	w, err := s.repo.Get(ctx, workspaceID)
	if err != nil {
		return Membership{}, fmt.Errorf("workspace %s: %w", workspaceID, err)
	}
	m := Membership{Workspace: w, ActorID: actorID}
	switch actorID {
	case w.DoctorID:
		m.Role = RoleDoctor
	case w.PatientID:
		m.Role = RolePatient
	default:
		return Membership{}, fmt.Errorf("%w: actor %s is not a member of workspace %s", ErrAccessDenied, actorID, workspaceID)
	}
	return m, nil
}
