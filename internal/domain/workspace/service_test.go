package workspace

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func newTestService() *Service {
	return NewService(NewMemRepository())
}

func TestCreate_Success(t *testing.T) {
	svc := newTestService()
	w, err := svc.Create(context.Background(), "doc-1", "pat-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.ID == uuid.Nil {
		t.Error("expected ID to be assigned")
	}
}

func TestCreate_MissingParticipants(t *testing.T) {
	svc := newTestService()
	if _, err := svc.Create(context.Background(), "", "pat-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := svc.Create(context.Background(), "same", "same"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for identical ids, got %v", err)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	svc := newTestService()
	if _, err := svc.Create(context.Background(), "doc-1", "pat-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(context.Background(), "doc-1", "pat-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected duplicate pair to be rejected, got %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	svc := newTestService()
	w, _ := svc.Create(context.Background(), "doc-1", "pat-1")

	tests := []struct {
		actor    string
		wantRole string
		wantErr  error
	}{
		{"doc-1", RoleDoctor, nil},
		{"pat-1", RolePatient, nil},
		{"stranger", "", ErrAccessDenied},
		{"", "", ErrAccessDenied},
	}
	for _, tt := range tests {
		m, err := svc.Authorize(context.Background(), w.ID, tt.actor)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("actor %q: expected %v, got %v", tt.actor, tt.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("actor %q: unexpected error %v", tt.actor, err)
			continue
		}
		if m.Role != tt.wantRole {
			t.Errorf("actor %q: expected role %s, got %s", tt.actor, tt.wantRole, m.Role)
		}
	}
}

func TestAuthorize_UnknownWorkspace(t *testing.T) {
	svc := newTestService()
	if _, err := svc.Authorize(context.Background(), uuid.New(), "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
