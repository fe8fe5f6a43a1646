package rollup

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/medhistory/internal/domain/ledger"
)

var now = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

func rec(category, status, title string) *ledger.HistoryRecord {
	return &ledger.HistoryRecord{
		ID:           uuid.New(),
		Category:     category,
		Status:       status,
		Title:        title,
		Source:       ledger.SourceDoctor,
		RecordedDate: now.Add(-48 * time.Hour),
		CategoryData: map[string]any{},
	}
}

func daysAgo(n int) *time.Time {
	d := now.AddDate(0, 0, -n)
	return &d
}

func TestCompute_Empty(t *testing.T) {
	st := Compute(nil, now)
	if st.TotalConditions != 0 || st.CompletenessScore != 0 || st.UnverifiedCount != 0 {
		t.Errorf("expected zero stats, got %+v", st)
	}
	if len(st.SourceBreakdown) != 4 {
		t.Errorf("expected every source in the breakdown, got %v", st.SourceBreakdown)
	}
	if st.ActiveConditionsList == nil || st.RecentLabsList == nil {
		t.Error("expected empty, non-nil lists")
	}
}

func TestCompute_Counts(t *testing.T) {
	chronic := rec(ledger.CategoryCondition, ledger.StatusActive, "Diabetes")
	chronic.IsChronic = true
	resolved := rec(ledger.CategoryCondition, ledger.StatusResolved, "Bronchitis")
	resolved.IsChronic = true
	med := rec(ledger.CategoryMedication, ledger.StatusActive, "Metformin")
	med.RequiresMonitoring = true
	oldMed := rec(ledger.CategoryMedication, ledger.StatusInactive, "Glipizide")
	allergy := rec(ledger.CategoryAllergy, ledger.StatusActive, "Penicillin")
	allergy.IsCritical = true
	allergy.Source = ledger.SourceOCR
	allergy.VerifiedByDoctor = true
	visitOld := rec(ledger.CategoryVisit, ledger.StatusHistorical, "Checkup")
	visitOld.StartDate = daysAgo(200)
	visitNew := rec(ledger.CategoryVisit, ledger.StatusHistorical, "Follow-up")
	visitNew.StartDate = daysAgo(10)

	st := Compute([]*ledger.HistoryRecord{chronic, resolved, med, oldMed, allergy, visitOld, visitNew}, now)

	checks := []struct {
		name      string
		got, want int
	}{
		{"total conditions", st.TotalConditions, 2},
		{"active conditions", st.ActiveConditions, 1},
		{"total medications", st.TotalMedications, 2},
		{"current medications", st.CurrentMedications, 1},
		{"total allergies", st.TotalAllergies, 1},
		{"total visits", st.TotalVisits, 2},
		{"critical count", st.CriticalCount, 1},
		{"monitoring count", st.MonitoringCount, 1},
		{"unverified", st.UnverifiedCount, 6},
		{"ocr source", st.SourceBreakdown[ledger.SourceOCR], 1},
		{"doctor source", st.SourceBreakdown[ledger.SourceDoctor], 6},
		{"completeness", st.CompletenessScore, 67},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %d, got %d", c.name, c.want, c.got)
		}
	}
	if !st.HasChronicConditions || !st.HasCriticalAllergies || !st.RequiresMonitoring {
		t.Errorf("expected all flags set, got %+v", st)
	}
	if st.LastVisitDate == nil || !st.LastVisitDate.Equal(*visitNew.StartDate) {
		t.Errorf("expected last visit %v, got %v", visitNew.StartDate, st.LastVisitDate)
	}
}

func TestCompute_InactiveChronicDoesNotFlag(t *testing.T) {
	r := rec(ledger.CategoryCondition, ledger.StatusResolved, "Hepatitis A")
	r.IsChronic = true
	r.IsCritical = true
	st := Compute([]*ledger.HistoryRecord{r}, now)
	if st.HasChronicConditions || st.CriticalCount != 0 {
		t.Errorf("resolved records must not raise active flags, got %+v", st)
	}
}

func TestCompute_Completeness(t *testing.T) {
	tests := []struct {
		categories []string
		want       int
	}{
		{[]string{ledger.CategoryCondition}, 17},
		{[]string{ledger.CategoryCondition, ledger.CategoryMedication}, 33},
		{[]string{ledger.CategoryCondition, ledger.CategoryMedication, ledger.CategoryAllergy}, 50},
		{[]string{ledger.CategoryCondition, ledger.CategoryMedication, ledger.CategoryAllergy, ledger.CategorySurgery}, 67},
		{[]string{ledger.CategoryCondition, ledger.CategoryMedication, ledger.CategoryAllergy, ledger.CategorySurgery, ledger.CategoryVisit}, 83},
		{ledger.Categories, 100},
	}
	for _, tt := range tests {
		var records []*ledger.HistoryRecord
		for _, c := range tt.categories {
			records = append(records, rec(c, ledger.DefaultStatus(c), c), rec(c, ledger.DefaultStatus(c), c+" 2"))
		}
		if got := Compute(records, now).CompletenessScore; got != tt.want {
			t.Errorf("%d categories: expected %d, got %d", len(tt.categories), tt.want, got)
		}
	}
}

func TestCompute_ListsAreOrderedAndCapped(t *testing.T) {
	var records []*ledger.HistoryRecord
	for i := 0; i < 12; i++ {
		records = append(records, rec(ledger.CategoryCondition, ledger.StatusActive, fmt.Sprintf("Condition %02d", i)))
	}
	severe := rec(ledger.CategoryCondition, ledger.StatusActive, "Zoster")
	sev := "severe"
	severe.Severity = &sev
	chronic := rec(ledger.CategoryCondition, ledger.StatusActive, "Asthma")
	chronic.IsChronic = true
	records = append(records, severe, chronic)

	st := Compute(records, now)
	if len(st.ActiveConditionsList) != listLimit {
		t.Fatalf("expected %d items, got %d", listLimit, len(st.ActiveConditionsList))
	}
	if st.ActiveConditionsList[0].Title != "Asthma" || st.ActiveConditionsList[1].Title != "Zoster" {
		t.Errorf("expected chronic then severe first, got %s, %s", st.ActiveConditionsList[0].Title, st.ActiveConditionsList[1].Title)
	}
	if st.ActiveConditions != 14 {
		t.Errorf("counts are not capped: expected 14, got %d", st.ActiveConditions)
	}
}

func TestCompute_RecentLabsWindow(t *testing.T) {
	recent := rec(ledger.CategoryLabResult, ledger.StatusHistorical, "HbA1c")
	recent.StartDate = daysAgo(5)
	recent.CategoryData = map[string]any{"test_name": "HbA1c", "result_value": 7.2, "unit": "%", "abnormal": true}
	old := rec(ledger.CategoryLabResult, ledger.StatusHistorical, "LDL")
	old.StartDate = daysAgo(45)
	undated := rec(ledger.CategoryLabResult, ledger.StatusHistorical, "TSH")

	st := Compute([]*ledger.HistoryRecord{old, recent, undated}, now)
	if len(st.RecentLabsList) != 2 {
		t.Fatalf("expected 2 recent labs, got %+v", st.RecentLabsList)
	}
	first := st.RecentLabsList[0]
	if first.Title != "TSH" {
		t.Errorf("expected newest first (recorded 2 days ago), got %s", first.Title)
	}
	second := st.RecentLabsList[1]
	if second.Value != "7.2" || second.Unit != "%" || !second.Abnormal {
		t.Errorf("expected lab details on item, got %+v", second)
	}
	if st.TotalLabResults != 3 {
		t.Errorf("expected 3 lab results, got %d", st.TotalLabResults)
	}
}

func TestBuildClinicalView(t *testing.T) {
	surgeryRecent := rec(ledger.CategorySurgery, ledger.StatusHistorical, "Appendectomy")
	surgeryRecent.StartDate = daysAgo(300)
	surgeryOld := rec(ledger.CategorySurgery, ledger.StatusHistorical, "Tonsillectomy")
	surgeryOld.StartDate = daysAgo(3000)
	visit := rec(ledger.CategoryVisit, ledger.StatusHistorical, "ER visit")
	visit.StartDate = daysAgo(20)
	labUndated := rec(ledger.CategoryLabResult, ledger.StatusHistorical, "CBC")
	monitored := rec(ledger.CategoryMedication, ledger.StatusActive, "Warfarin")
	monitored.RequiresMonitoring = true

	v := BuildClinicalView([]*ledger.HistoryRecord{surgeryRecent, surgeryOld, visit, labUndated, monitored}, now)
	want := map[string]int{
		"active_conditions":   0,
		"current_medications": 1,
		"allergies":           0,
		"recent_surgeries":    1,
		"recent_visits":       1,
		"recent_labs":         0,
		"monitoring_items":    1,
	}
	for k, n := range want {
		if v.Counts[k] != n {
			t.Errorf("%s: expected %d, got %d", k, n, v.Counts[k])
		}
	}
	if v.ActiveConditions == nil {
		t.Error("expected empty, non-nil list")
	}
}
