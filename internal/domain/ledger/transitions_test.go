package ledger

import (
	"errors"
	"testing"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to string
		wantErr  error
	}{
		{StatusActive, StatusResolved, nil},
		{StatusActive, StatusHistorical, nil},
		{StatusActive, StatusInactive, nil},
		{StatusInactive, StatusActive, nil},
		{StatusInactive, StatusResolved, nil},
		{StatusResolved, StatusActive, nil},
		{StatusResolved, StatusHistorical, nil},
		{StatusResolved, StatusInactive, ErrInvalidTransition},
		{StatusHistorical, StatusActive, ErrInvalidTransition},
		{StatusHistorical, StatusResolved, ErrInvalidTransition},
		{StatusHistorical, StatusHistorical, nil},
		{StatusActive, "archived", ErrValidation},
	}
	for _, tt := range tests {
		err := CheckTransition(tt.from, tt.to)
		if tt.wantErr == nil && err != nil {
			t.Errorf("%s → %s: unexpected error %v", tt.from, tt.to, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Errorf("%s → %s: expected %v, got %v", tt.from, tt.to, tt.wantErr, err)
		}
	}
}
