package rollup

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ehr/medhistory/internal/domain/ledger"
)

var severityRank = map[string]int{"critical": 4, "severe": 3, "moderate": 2, "mild": 1}

// Compute derives the non-AI summary fields from the full record set.
func Compute(records []*ledger.HistoryRecord, now time.Time) Stats {
	st := Stats{SourceBreakdown: map[string]int{}}
	for _, src := range ledger.Sources {
		st.SourceBreakdown[src] = 0
	}

	var conditions, meds, allergies, labs []*ledger.HistoryRecord
	recentCutoff := now.Add(-recentLabsWindow)

	for _, r := range records {
		active := r.Status == ledger.StatusActive
		st.SourceBreakdown[r.Source]++
		if !r.VerifiedByDoctor {
			st.UnverifiedCount++
		}
		if active && r.IsChronic {
			st.HasChronicConditions = true
		}
		if active && r.IsCritical {
			st.CriticalCount++
		}
		if active && r.RequiresMonitoring {
			st.MonitoringCount++
			st.RequiresMonitoring = true
		}

		switch r.Category {
		case ledger.CategoryCondition:
			st.TotalConditions++
			if active {
				st.ActiveConditions++
				conditions = append(conditions, r)
			}
		case ledger.CategoryMedication:
			st.TotalMedications++
			if active {
				st.CurrentMedications++
				meds = append(meds, r)
			}
		case ledger.CategoryAllergy:
			st.TotalAllergies++
			if r.IsCritical {
				st.HasCriticalAllergies = true
			}
			allergies = append(allergies, r)
		case ledger.CategorySurgery:
			st.TotalSurgeries++
		case ledger.CategoryVisit:
			st.TotalVisits++
			d := r.EffectiveDate()
			if st.LastVisitDate == nil || d.After(*st.LastVisitDate) {
				st.LastVisitDate = &d
			}
		case ledger.CategoryLabResult:
			st.TotalLabResults++
			if !r.EffectiveDate().Before(recentCutoff) {
				labs = append(labs, r)
			}
		}
	}

	sort.SliceStable(conditions, func(i, j int) bool {
		a, b := conditions[i], conditions[j]
		if a.IsChronic != b.IsChronic {
			return a.IsChronic
		}
		if a.IsCritical != b.IsCritical {
			return a.IsCritical
		}
		if ra, rb := rankOf(a), rankOf(b); ra != rb {
			return ra > rb
		}
		return lessTitle(a, b)
	})
	byCriticalThenTitle := func(items []*ledger.HistoryRecord) {
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].IsCritical != items[j].IsCritical {
				return items[i].IsCritical
			}
			return lessTitle(items[i], items[j])
		})
	}
	byCriticalThenTitle(meds)
	byCriticalThenTitle(allergies)
	sort.SliceStable(labs, func(i, j int) bool { return labs[i].EffectiveDate().After(labs[j].EffectiveDate()) })

	st.ActiveConditionsList = items(conditions)
	st.CurrentMedsList = items(meds)
	st.AllergiesList = items(allergies)
	st.RecentLabsList = items(labs)
	st.CompletenessScore = completeness(st)
	return st
}

func completeness(st Stats) int {
	nonEmpty := 0
	for _, n := range []int{st.TotalConditions, st.TotalMedications, st.TotalAllergies, st.TotalSurgeries, st.TotalVisits, st.TotalLabResults} {
		if n > 0 {
			nonEmpty++
		}
	}
	return int(math.Round(100 * float64(nonEmpty) / float64(len(ExpectedCategories))))
}

func rankOf(r *ledger.HistoryRecord) int {
	if r.Severity == nil {
		return 0
	}
	return severityRank[*r.Severity]
}

func lessTitle(a, b *ledger.HistoryRecord) bool {
	return strings.ToLower(a.Title) < strings.ToLower(b.Title)
}

func items(records []*ledger.HistoryRecord) []Item {
	if len(records) > listLimit {
		records = records[:listLimit]
	}
	out := make([]Item, 0, len(records))
	for _, r := range records {
		it := Item{
			ID:         r.ID,
			Title:      r.Title,
			Status:     r.Status,
			IsChronic:  r.IsChronic,
			IsCritical: r.IsCritical,
		}
		if r.Severity != nil {
			it.Severity = *r.Severity
		}
		if r.StartDate != nil {
			d := *r.StartDate
			it.Date = &d
		}
		if r.Category == ledger.CategoryLabResult {
			it.Value, _ = ledger.ResultValue(r.CategoryData)
			it.Unit = ledger.StringField(r.CategoryData, "unit")
			it.Abnormal = ledger.IsAbnormal(r.CategoryData)
		}
		out = append(out, it)
	}
	return out
}

// BuildClinicalView selects the records a treating doctor needs at a glance.
func BuildClinicalView(records []*ledger.HistoryRecord, now time.Time) ClinicalView {
	var v ClinicalView
	within := func(r *ledger.HistoryRecord, d time.Duration) bool {
		return r.StartDate != nil && !r.StartDate.Before(now.Add(-d))
	}
	for _, r := range records {
		active := r.Status == ledger.StatusActive
		switch r.Category {
		case ledger.CategoryCondition:
			if active {
				v.ActiveConditions = append(v.ActiveConditions, r)
			}
		case ledger.CategoryMedication:
			if active {
				v.CurrentMedications = append(v.CurrentMedications, r)
			}
		case ledger.CategoryAllergy:
			v.Allergies = append(v.Allergies, r)
		case ledger.CategorySurgery:
			if within(r, 730*24*time.Hour) {
				v.RecentSurgeries = append(v.RecentSurgeries, r)
			}
		case ledger.CategoryVisit:
			if within(r, 180*24*time.Hour) {
				v.RecentVisits = append(v.RecentVisits, r)
			}
		case ledger.CategoryLabResult:
			if within(r, 90*24*time.Hour) {
				v.RecentLabs = append(v.RecentLabs, r)
			}
		}
		if active && r.RequiresMonitoring {
			v.MonitoringItems = append(v.MonitoringItems, r)
		}
	}

	byNewest := func(items []*ledger.HistoryRecord) {
		sort.SliceStable(items, func(i, j int) bool { return items[i].StartDate.After(*items[j].StartDate) })
	}
	byNewest(v.RecentSurgeries)
	byNewest(v.RecentVisits)
	byNewest(v.RecentLabs)
	sort.SliceStable(v.MonitoringItems, func(i, j int) bool {
		a, b := v.MonitoringItems[i], v.MonitoringItems[j]
		if a.IsCritical != b.IsCritical {
			return a.IsCritical
		}
		return a.Category < b.Category
	})

	v.ActiveConditions = nonNil(v.ActiveConditions)
	v.CurrentMedications = nonNil(v.CurrentMedications)
	v.Allergies = nonNil(v.Allergies)
	v.RecentSurgeries = nonNil(v.RecentSurgeries)
	v.RecentVisits = nonNil(v.RecentVisits)
	v.RecentLabs = nonNil(v.RecentLabs)
	v.MonitoringItems = nonNil(v.MonitoringItems)
	v.Counts = map[string]int{
		"active_conditions":   len(v.ActiveConditions),
		"current_medications": len(v.CurrentMedications),
		"allergies":           len(v.Allergies),
		"recent_surgeries":    len(v.RecentSurgeries),
		"recent_visits":       len(v.RecentVisits),
		"recent_labs":         len(v.RecentLabs),
		"monitoring_items":    len(v.MonitoringItems),
	}
	return v
}

func nonNil(items []*ledger.HistoryRecord) []*ledger.HistoryRecord {
	if items == nil {
		return []*ledger.HistoryRecord{}
	}
	return items
}
