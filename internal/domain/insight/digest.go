package insight

import (
	"sort"
	"strings"

	"github.com/ehr/medhistory/internal/domain/ledger"
	"github.com/ehr/medhistory/internal/domain/trend"
	"github.com/ehr/medhistory/internal/platform/reasoning"
)

// Per-list caps on what is sent to the collaborator.
const (
	maxConditions  = 15
	maxMedications = 15
	maxAllergies   = 10
	maxLabs        = 20
	maxSurgeries   = 10
	maxVisits      = 10
)

const digestDate = "2006-01-02"

// BuildDigest condenses a workspace's records into the compact view the
// collaborator reasons over. Lists are newest first.
func BuildDigest(patientID string, records []*ledger.HistoryRecord) reasoning.Digest {
	d := reasoning.Digest{PatientID: patientID}

	var conditions, meds, allergies, labs, surgeries, visits []*ledger.HistoryRecord
	for _, r := range records {
		active := r.Status == ledger.StatusActive
		if active && r.IsChronic {
			d.ChronicCount++
		}
		if active && r.IsCritical {
			d.CriticalCount++
		}
		if !r.VerifiedByDoctor {
			d.UnverifiedCount++
		}
		switch r.Category {
		case ledger.CategoryCondition:
			if active {
				conditions = append(conditions, r)
			}
		case ledger.CategoryMedication:
			if active {
				meds = append(meds, r)
			}
		case ledger.CategoryAllergy:
			allergies = append(allergies, r)
		case ledger.CategoryLabResult:
			labs = append(labs, r)
		case ledger.CategorySurgery:
			surgeries = append(surgeries, r)
		case ledger.CategoryVisit:
			visits = append(visits, r)
		}
	}

	d.ActiveConditions = digestItems(conditions, maxConditions, conditionDetail)
	d.CurrentMedications = digestItems(meds, maxMedications, medicationDetail)
	d.Allergies = digestItems(allergies, maxAllergies, func(r *ledger.HistoryRecord) string {
		return ledger.StringField(r.CategoryData, "reaction")
	})
	d.RecentLabs = digestItems(labs, maxLabs, labDetail)
	d.Surgeries = digestItems(surgeries, maxSurgeries, func(r *ledger.HistoryRecord) string {
		return ledger.StringField(r.CategoryData, "hospital")
	})
	d.RecentVisits = digestItems(visits, maxVisits, func(r *ledger.HistoryRecord) string {
		return joinNonEmpty(", ", ledger.StringField(r.CategoryData, "visit_type"), ledger.StringField(r.CategoryData, "provider"))
	})
	return d
}

func digestItems(records []*ledger.HistoryRecord, limit int, detail func(*ledger.HistoryRecord) string) []reasoning.DigestItem {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].EffectiveDate().After(records[j].EffectiveDate())
	})
	if len(records) > limit {
		records = records[:limit]
	}
	out := make([]reasoning.DigestItem, 0, len(records))
	for _, r := range records {
		item := reasoning.DigestItem{
			Title:    r.Title,
			Detail:   detail(r),
			Date:     r.EffectiveDate().Format(digestDate),
			Abnormal: r.Category == ledger.CategoryLabResult && ledger.IsAbnormal(r.CategoryData),
		}
		if r.Severity != nil {
			item.Severity = *r.Severity
		}
		out = append(out, item)
	}
	return out
}

func conditionDetail(r *ledger.HistoryRecord) string {
	if r.IsChronic {
		return joinNonEmpty("; ", "chronic", r.Description)
	}
	return r.Description
}

func medicationDetail(r *ledger.HistoryRecord) string {
	return joinNonEmpty(" ", ledger.StringField(r.CategoryData, "dosage"), ledger.StringField(r.CategoryData, "frequency"))
}

func labDetail(r *ledger.HistoryRecord) string {
	v, _ := ledger.ResultValue(r.CategoryData)
	detail := joinNonEmpty(" ", v, ledger.StringField(r.CategoryData, "unit"))
	if ref := ledger.StringField(r.CategoryData, "reference_range"); ref != "" {
		detail += " (ref " + ref + ")"
	}
	return detail
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// TrendDigestOf renders a series for interpretation.
func TrendDigestOf(ser *trend.Series) reasoning.TrendDigest {
	d := reasoning.TrendDigest{
		Parameter:      ser.ParameterCode,
		DisplayName:    ser.DisplayName,
		Unit:           ser.Unit,
		ReferenceRange: ser.ReferenceRangeText,
		Direction:      ser.Direction,
		Points:         make([]reasoning.TrendPoint, 0, len(ser.Points)),
	}
	for _, p := range ser.Points {
		d.Points = append(d.Points, reasoning.TrendPoint{
			Date:     p.Date.UTC().Format(digestDate),
			Value:    p.Value,
			Abnormal: p.IsAbnormal,
		})
	}
	return d
}
