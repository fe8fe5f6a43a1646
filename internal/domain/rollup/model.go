// Package rollup maintains the derived per-workspace history summary.
package rollup

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/medhistory/internal/domain/ledger"
	"github.com/ehr/medhistory/internal/platform/reasoning"
)

var ErrNotFound = errors.New("summary not found")

// Generation statuses recorded for the AI-authored fields.
const (
	GenerationNever         = "never"
	GenerationOK            = "ok"
	GenerationFailed        = "failed"
	GenerationQuotaExceeded = "quota_exceeded"
	GenerationTimeout       = "timeout"
)

// ExpectedCategories is the denominator of the completeness score.
var ExpectedCategories = ledger.Categories

const (
	listLimit        = 10
	recentLabsWindow = 30 * 24 * time.Hour
)

// Item is a compact list entry in the summary.
type Item struct {
	ID         uuid.UUID  `json:"id"`
	Title      string     `json:"title"`
	Status     string     `json:"status"`
	Severity   string     `json:"severity,omitempty"`
	Date       *time.Time `json:"date,omitempty"`
	IsChronic  bool       `json:"is_chronic,omitempty"`
	IsCritical bool       `json:"is_critical,omitempty"`
	Value      string     `json:"value,omitempty"`
	Unit       string     `json:"unit,omitempty"`
	Abnormal   bool       `json:"abnormal,omitempty"`
}

// Stats are the non-AI fields: a pure function of the workspace's records.
type Stats struct {
	TotalConditions      int            `json:"total_conditions"`
	ActiveConditions     int            `json:"active_conditions"`
	TotalMedications     int            `json:"total_medications"`
	CurrentMedications   int            `json:"current_medications"`
	TotalAllergies       int            `json:"total_allergies"`
	TotalSurgeries       int            `json:"total_surgeries"`
	TotalVisits          int            `json:"total_visits"`
	TotalLabResults      int            `json:"total_lab_results"`
	HasChronicConditions bool           `json:"has_chronic_conditions"`
	HasCriticalAllergies bool           `json:"has_critical_allergies"`
	RequiresMonitoring   bool           `json:"requires_monitoring"`
	CriticalCount        int            `json:"critical_count"`
	MonitoringCount      int            `json:"monitoring_count"`
	UnverifiedCount      int            `json:"unverified_count"`
	SourceBreakdown      map[string]int `json:"source_breakdown"`
	LastVisitDate        *time.Time     `json:"last_visit_date,omitempty"`
	ActiveConditionsList []Item         `json:"active_conditions_list"`
	CurrentMedsList      []Item         `json:"current_medications_list"`
	AllergiesList        []Item         `json:"allergies_list"`
	RecentLabsList       []Item         `json:"recent_labs_list"`
	CompletenessScore    int            `json:"completeness_score"`
}

// Summary is the stored rollup: stats plus the best-effort AI fields and
// their generation status.
type Summary struct {
	WorkspaceID     uuid.UUID `json:"workspace_id"`
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
	Stats

	NarrativeSummary     string                   `json:"narrative_summary"`
	RiskAssessment       reasoning.RiskAssessment `json:"risk_assessment"`
	TrendsDetected       []reasoning.TrendNote    `json:"trends_detected"`
	FocusPoints          []string                 `json:"focus_points"`
	LastGeneratedAt      *time.Time               `json:"last_generated_at,omitempty"`
	LastGenerationStatus string                   `json:"last_generation_status"`
	LastGenerationError  string                   `json:"last_generation_error,omitempty"`
	LastAttemptAt        *time.Time               `json:"last_attempt_at,omitempty"`
}

// InsightFresh reports whether the AI fields were generated within window.
func (s *Summary) InsightFresh(now time.Time, window time.Duration) bool {
	return s.LastGeneratedAt != nil && now.Sub(*s.LastGeneratedAt) < window
}

// ClinicalView is the doctor-facing focused view of current care.
type ClinicalView struct {
	WorkspaceID        uuid.UUID               `json:"workspace_id"`
	ActiveConditions   []*ledger.HistoryRecord `json:"active_conditions"`
	CurrentMedications []*ledger.HistoryRecord `json:"current_medications"`
	Allergies          []*ledger.HistoryRecord `json:"allergies"`
	RecentSurgeries    []*ledger.HistoryRecord `json:"recent_surgeries"`
	RecentVisits       []*ledger.HistoryRecord `json:"recent_visits"`
	RecentLabs         []*ledger.HistoryRecord `json:"recent_labs"`
	MonitoringItems    []*ledger.HistoryRecord `json:"monitoring_items"`
	Counts             map[string]int          `json:"counts"`
}
