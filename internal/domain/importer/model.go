// Package importer turns parsed candidate facts from intake forms and
// scanned reports into ledger records, at most once per source document.
package importer

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateImport means the source document already has a receipt. It
// never reaches callers; Import reports it as a duplicate result.
var ErrDuplicateImport = errors.New("source document already imported")

var errReceiptNotFound = errors.New("import receipt not found")

// Batch is one parsed source document.
type Batch struct {
	WorkspaceID         uuid.UUID   `json:"-"`
	Source              string      `json:"source"`
	SourceReferenceID   string      `json:"source_reference_id"`
	SourceReferenceType string      `json:"source_reference_type"`
	Confidence          *float64    `json:"confidence,omitempty"`
	Candidates          []Candidate `json:"candidates"`
}

// Candidate is one fact extracted from the document.
type Candidate struct {
	Category           string         `json:"category"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	Status             string         `json:"status"`
	Severity           *string        `json:"severity"`
	IsChronic          bool           `json:"is_chronic"`
	IsCritical         bool           `json:"is_critical"`
	RequiresMonitoring bool           `json:"requires_monitoring"`
	StartDate          string         `json:"start_date"`
	EndDate            string         `json:"end_date"`
	CategoryData       map[string]any `json:"category_data"`
}

// Result reports what an import produced.
type Result struct {
	WorkspaceID uuid.UUID   `json:"workspace_id"`
	RecordIDs   []uuid.UUID `json:"record_ids"`
	Created     int         `json:"created"`
	Collapsed   int         `json:"collapsed"`
	Duplicate   bool        `json:"duplicate"`
}

// Receipt is the persisted fact that a document was imported.
type Receipt struct {
	ID                  uuid.UUID   `json:"id"`
	WorkspaceID         uuid.UUID   `json:"workspace_id"`
	Source              string      `json:"source"`
	SourceReferenceID   string      `json:"source_reference_id"`
	SourceReferenceType string      `json:"source_reference_type"`
	RecordIDs           []uuid.UUID `json:"record_ids"`
	ImportedBy          string      `json:"imported_by"`
	CreatedAt           time.Time   `json:"created_at"`
}

var defaultReferenceTypes = map[string]string{
	"INTAKE": "intake_form",
	"OCR":    "medical_report",
}
