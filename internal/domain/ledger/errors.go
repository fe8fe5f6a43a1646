package ledger

import (
	"errors"

	"github.com/ehr/medhistory/internal/domain/workspace"
)

var (
	ErrInvalidCategory   = errors.New("invalid category")
	ErrInvalidDateRange  = errors.New("end_date is before start_date")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")

	// Shared with the workspace directory so one errors.Is check covers both.
	ErrNotFound     = workspace.ErrNotFound
	ErrAccessDenied = workspace.ErrAccessDenied
)

// ErrDuplicateRecord is returned by repositories when an imported record
// collides with the per-document uniqueness key.
var ErrDuplicateRecord = errors.New("duplicate imported record")
