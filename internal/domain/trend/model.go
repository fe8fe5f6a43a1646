// Package trend tracks numeric lab parameters over time and classifies the
// direction of each series.
package trend

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	DirectionImproving   = "improving"
	DirectionWorsening   = "worsening"
	DirectionStable      = "stable"
	DirectionFluctuating = "fluctuating"
	DirectionUnknown     = "unknown"
)

var ErrNotFound = errors.New("trend series not found")

// Point is one dated observation in a series.
type Point struct {
	Date       time.Time  `json:"date"`
	Value      string     `json:"value"`
	IsAbnormal bool       `json:"is_abnormal"`
	Source     string     `json:"source"`
	RecordID   *uuid.UUID `json:"record_id,omitempty"`
}

// Series is the per-workspace history of one lab parameter.
type Series struct {
	ID                   uuid.UUID  `json:"id"`
	WorkspaceID          uuid.UUID  `json:"workspace_id"`
	ParameterCode        string     `json:"parameter_code"`
	DisplayName          string     `json:"display_name"`
	Unit                 string     `json:"unit"`
	Points               []Point    `json:"points"`
	ReferenceRangeText   string     `json:"reference_range_text"`
	ReferenceMin         *float64   `json:"reference_min,omitempty"`
	ReferenceMax         *float64   `json:"reference_max,omitempty"`
	Direction            string     `json:"direction"`
	LatestValue          string     `json:"latest_value"`
	LatestDate           *time.Time `json:"latest_date,omitempty"`
	IsCurrentlyAbnormal  bool       `json:"is_currently_abnormal"`
	Interpretation       string     `json:"interpretation"`
	ClinicalSignificance string     `json:"clinical_significance"`
	InterpretedAt        *time.Time `json:"interpreted_at,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Observation is a single value to fold into a series. Descriptive fields
// left empty keep the series' current values.
type Observation struct {
	Date               time.Time
	Value              string
	IsAbnormal         bool
	Source             string
	RecordID           *uuid.UUID
	DisplayName        string
	Unit               string
	ReferenceRangeText string
	ReferenceMin       *float64
	ReferenceMax       *float64
}

// Stale reports whether the stored interpretation predates the latest change
// to the series.
func (s *Series) Stale() bool {
	return s.InterpretedAt == nil || s.InterpretedAt.Before(s.UpdatedAt)
}

func (s *Series) clone() *Series {
	cp := *s
	cp.Points = append([]Point(nil), s.Points...)
	return &cp
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
