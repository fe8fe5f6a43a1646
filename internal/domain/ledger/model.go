package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	CategoryCondition  = "condition"
	CategoryMedication = "medication"
	CategoryAllergy    = "allergy"
	CategorySurgery    = "surgery"
	CategoryVisit      = "visit"
	CategoryLabResult  = "lab_result"
)

const (
	SourceIntake = "INTAKE"
	SourceOCR    = "OCR"
	SourceDoctor = "DOCTOR"
	SourceManual = "MANUAL"
)

const (
	StatusActive     = "active"
	StatusResolved   = "resolved"
	StatusHistorical = "historical"
	StatusInactive   = "inactive"
)

var validCategories = map[string]bool{
	CategoryCondition: true, CategoryMedication: true, CategoryAllergy: true,
	CategorySurgery: true, CategoryVisit: true, CategoryLabResult: true,
}

var validSources = map[string]bool{
	SourceIntake: true, SourceOCR: true, SourceDoctor: true, SourceManual: true,
}

var validStatuses = map[string]bool{
	StatusActive: true, StatusResolved: true, StatusHistorical: true, StatusInactive: true,
}

var validSeverities = map[string]bool{
	"mild": true, "moderate": true, "severe": true, "critical": true,
}

// Categories lists every record category in display order.
var Categories = []string{
	CategoryCondition, CategoryMedication, CategoryAllergy,
	CategorySurgery, CategoryVisit, CategoryLabResult,
}

// Sources lists every record origin.
var Sources = []string{SourceIntake, SourceOCR, SourceDoctor, SourceManual}

func IsImportSource(source string) bool {
	return source == SourceIntake || source == SourceOCR
}

// DefaultStatus is the status a record gets when its producer did not say.
func DefaultStatus(category string) string {
	switch category {
	case CategoryCondition, CategoryMedication, CategoryAllergy:
		return StatusActive
	default:
		return StatusHistorical
	}
}

// HistoryRecord is one canonical medical fact within a workspace.
type HistoryRecord struct {
	ID                  uuid.UUID      `json:"id"`
	WorkspaceID         uuid.UUID      `json:"workspace_id"`
	PatientID           string         `json:"patient_id"`
	Category            string         `json:"category"`
	Source              string         `json:"source"`
	Title               string         `json:"title"`
	Description         string         `json:"description"`
	CategoryData        map[string]any `json:"category_data"`
	Status              string         `json:"status"`
	StartDate           *time.Time     `json:"start_date,omitempty"`
	EndDate             *time.Time     `json:"end_date,omitempty"`
	RecordedDate        time.Time      `json:"recorded_date"`
	Severity            *string        `json:"severity,omitempty"`
	IsChronic           bool           `json:"is_chronic"`
	RequiresMonitoring  bool           `json:"requires_monitoring"`
	IsCritical          bool           `json:"is_critical"`
	SourceReferenceID   *string        `json:"source_reference_id,omitempty"`
	SourceReferenceType *string        `json:"source_reference_type,omitempty"`
	VerifiedByDoctor    bool           `json:"verified_by_doctor"`
	VerifiedAt          *time.Time     `json:"verified_at,omitempty"`
	TrendingDirection   *string        `json:"trending_direction,omitempty"`
	LastValue           *string        `json:"last_value,omitempty"`
	ParameterCode       *string        `json:"parameter_code,omitempty"`
	DoctorNotes         string         `json:"doctor_notes"`
	Tags                []string       `json:"tags"`
	AddedBy             string         `json:"added_by"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so a patch can be applied without touching the
// stored value.
func (r *HistoryRecord) Clone() *HistoryRecord {
	cp := *r
	cp.CategoryData = cloneData(r.CategoryData)
	cp.Tags = append([]string(nil), r.Tags...)
	cp.StartDate = cloneTime(r.StartDate)
	cp.EndDate = cloneTime(r.EndDate)
	cp.VerifiedAt = cloneTime(r.VerifiedAt)
	cp.Severity = cloneString(r.Severity)
	cp.SourceReferenceID = cloneString(r.SourceReferenceID)
	cp.SourceReferenceType = cloneString(r.SourceReferenceType)
	cp.TrendingDirection = cloneString(r.TrendingDirection)
	cp.LastValue = cloneString(r.LastValue)
	cp.ParameterCode = cloneString(r.ParameterCode)
	return &cp
}

// EffectiveDate is the clinical date of the fact: start date when known,
// otherwise the date it was recorded.
func (r *HistoryRecord) EffectiveDate() time.Time {
	if r.StartDate != nil {
		return *r.StartDate
	}
	return r.RecordedDate
}

// NewRecord is the caller-supplied content of a manual or doctor entry.
type NewRecord struct {
	Category           string         `json:"category"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	Status             string         `json:"status"`
	Severity           *string        `json:"severity"`
	StartDate          string         `json:"start_date"`
	EndDate            string         `json:"end_date"`
	IsChronic          bool           `json:"is_chronic"`
	RequiresMonitoring bool           `json:"requires_monitoring"`
	IsCritical         bool           `json:"is_critical"`
	CategoryData       map[string]any `json:"category_data"`
	DoctorNotes        string         `json:"doctor_notes"`
	Tags               []string       `json:"tags"`
}

// Patch is a partial update. Nil fields are left untouched. An empty
// severity or date string clears the value.
type Patch struct {
	Title              *string        `json:"title"`
	Description        *string        `json:"description"`
	Category           *string        `json:"category"`
	Status             *string        `json:"status"`
	Severity           *string        `json:"severity"`
	StartDate          *string        `json:"start_date"`
	EndDate            *string        `json:"end_date"`
	IsChronic          *bool          `json:"is_chronic"`
	RequiresMonitoring *bool          `json:"requires_monitoring"`
	IsCritical         *bool          `json:"is_critical"`
	CategoryData       map[string]any `json:"category_data"`
	DoctorNotes        *string        `json:"doctor_notes"`
	Tags               []string       `json:"tags"`
}

// Filter narrows a record listing.
type Filter struct {
	Category   string
	Status     string
	Source     string
	Critical   *bool
	Monitoring *bool
	Verified   *bool
	Search     string
	Sort       string
	Desc       bool
	Limit      int
	Offset     int
}

// Change is one field difference produced by an update.
type Change struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

func (c Change) String() string {
	return fmt.Sprintf("%s: %s → %s", c.Field, c.Old, c.New)
}

const dateLayout = "2006-01-02"

// ParseDate accepts YYYY-MM-DD or RFC 3339. An empty string yields nil.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q", ErrValidation, s)
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.Format(dateLayout)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneData(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
