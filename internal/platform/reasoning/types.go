package reasoning

// DigestItem is one compact fact handed to the collaborator.
type DigestItem struct {
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
	Date     string `json:"date,omitempty"`
	Severity string `json:"severity,omitempty"`
	Abnormal bool   `json:"abnormal,omitempty"`
}

// Digest is the bounded view of a workspace sent for summarization.
type Digest struct {
	PatientID          string       `json:"patient_id"`
	ActiveConditions   []DigestItem `json:"active_conditions"`
	CurrentMedications []DigestItem `json:"current_medications"`
	Allergies          []DigestItem `json:"allergies"`
	RecentLabs         []DigestItem `json:"recent_labs"`
	Surgeries          []DigestItem `json:"surgeries"`
	RecentVisits       []DigestItem `json:"recent_visits"`
	ChronicCount       int          `json:"chronic_count"`
	CriticalCount      int          `json:"critical_count"`
	UnverifiedCount    int          `json:"unverified_count"`
}

type RiskAssessment struct {
	High     []string `json:"high"`
	Moderate []string `json:"moderate"`
	Low      []string `json:"low"`
}

type TrendNote struct {
	Parameter string `json:"parameter"`
	Direction string `json:"direction"`
	Note      string `json:"note"`
}

// Insight is the collaborator's structured answer for a digest.
type Insight struct {
	NarrativeSummary string         `json:"narrative_summary"`
	RiskAssessment   RiskAssessment `json:"risk_assessment"`
	TrendsDetected   []TrendNote    `json:"trends_detected"`
	FocusPoints      []string       `json:"focus_points"`
}

type TrendPoint struct {
	Date     string `json:"date"`
	Value    string `json:"value"`
	Abnormal bool   `json:"abnormal"`
}

// TrendDigest describes one lab parameter series for interpretation.
type TrendDigest struct {
	Parameter      string       `json:"parameter"`
	DisplayName    string       `json:"display_name"`
	Unit           string       `json:"unit,omitempty"`
	ReferenceRange string       `json:"reference_range,omitempty"`
	Direction      string       `json:"direction"`
	Points         []TrendPoint `json:"points"`
}

type TrendInterpretation struct {
	Interpretation       string `json:"interpretation"`
	ClinicalSignificance string `json:"clinical_significance"`
}

// MedicationList is the payload for an interaction check.
type MedicationList struct {
	Medications []string `json:"medications"`
}

type Interaction struct {
	Drug1          string `json:"drug1"`
	Drug2          string `json:"drug2"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

// InteractionReport lists pairwise interactions and general warnings for a
// set of medications. Both slices are non-nil.
type InteractionReport struct {
	Interactions []Interaction `json:"interactions"`
	Warnings     []string      `json:"warnings"`
}
