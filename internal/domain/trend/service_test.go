package trend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/medhistory/internal/domain/ledger"
	"github.com/ehr/medhistory/internal/domain/timeline"
	"github.com/ehr/medhistory/internal/domain/workspace"
	"github.com/ehr/medhistory/internal/platform/db"
)

type fixture struct {
	trends  *Service
	ledger  *ledger.Service
	records *ledger.MemRepository
	series  *MemRepository
	ws      *workspace.Workspace
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	wsSvc := workspace.NewService(workspace.NewMemRepository())
	ws, err := wsSvc.Create(context.Background(), "doc-1", "pat-1")
	if err != nil {
		t.Fatal(err)
	}
	tx := db.NewLocalTransactor()
	f := &fixture{records: ledger.NewMemRepository(), series: NewMemRepository(), ws: ws}
	f.trends = NewService(Deps{
		Series:     f.series,
		Records:    f.records,
		Workspaces: wsSvc,
		Tx:         tx,
		Logger:     zerolog.Nop(),
	})
	f.ledger = ledger.NewService(ledger.Deps{
		Records:    f.records,
		Workspaces: wsSvc,
		Timeline:   timeline.NewService(timeline.NewMemRepository()),
		Tx:         tx,
		Trends:     f.trends,
		Logger:     zerolog.Nop(),
	})
	return f
}

func (f *fixture) lab(t *testing.T, name string, value any, date string, extra map[string]any) *ledger.HistoryRecord {
	t.Helper()
	data := map[string]any{"test_name": name, "result_value": value}
	for k, v := range extra {
		data[k] = v
	}
	rec, err := f.ledger.Create(context.Background(), "doc-1", f.ws.ID, ledger.NewRecord{
		Category:     ledger.CategoryLabResult,
		Title:        name,
		StartDate:    date,
		CategoryData: data,
	})
	if err != nil {
		t.Fatalf("create lab: %v", err)
	}
	return rec
}

func TestAddObservation_SameDateOverwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	morning := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	if _, err := f.trends.AddObservation(ctx, f.ws.ID, "glucose", Observation{Date: morning, Value: "110"}); err != nil {
		t.Fatal(err)
	}
	ser, err := f.trends.AddObservation(ctx, f.ws.ID, "glucose", Observation{Date: morning.Add(9 * time.Hour), Value: "98"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ser.Points) != 1 || ser.Points[0].Value != "98" {
		t.Errorf("expected one point with the later value, got %+v", ser.Points)
	}
}

func TestAddObservation_SortsAndTracksLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := func(m int) time.Time { return time.Date(2024, time.Month(m), 1, 0, 0, 0, 0, time.UTC) }

	for _, o := range []Observation{
		{Date: d(3), Value: "7.9", IsAbnormal: true},
		{Date: d(1), Value: "6.1"},
		{Date: d(2), Value: "6.4"},
	} {
		if _, err := f.trends.AddObservation(ctx, f.ws.ID, "hba1c", o); err != nil {
			t.Fatal(err)
		}
	}
	ser, err := f.trends.Lookup(ctx, f.ws.ID, "hba1c")
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(ser.Points); i++ {
		if ser.Points[i].Date.Before(ser.Points[i-1].Date) {
			t.Fatalf("points not sorted: %+v", ser.Points)
		}
	}
	if ser.LatestValue != "7.9" || !ser.IsCurrentlyAbnormal {
		t.Errorf("expected latest 7.9 abnormal, got %s abnormal=%v", ser.LatestValue, ser.IsCurrentlyAbnormal)
	}
	if ser.LatestDate == nil || !ser.LatestDate.Equal(d(3)) {
		t.Errorf("expected latest date %v, got %v", d(3), ser.LatestDate)
	}
}

func TestLabResults_FeedSeriesAndDenormalize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := map[string]any{"unit": "%", "reference_max": 5.6}

	f.lab(t, "HbA1c", 5.0, "2024-01-10", ref)
	f.lab(t, "HbA1c", 5.0, "2024-02-10", ref)
	f.lab(t, "HbA1c", 9.0, "2024-03-10", ref)
	last := f.lab(t, "HbA1c", 9.0, "2024-04-10", ref)

	ser, err := f.trends.Lookup(ctx, f.ws.ID, "hba1c")
	if err != nil {
		t.Fatal(err)
	}
	if len(ser.Points) != 4 {
		t.Fatalf("expected 4 points, got %d", len(ser.Points))
	}
	if ser.Direction != DirectionWorsening {
		t.Errorf("expected worsening (rising above reference max), got %s", ser.Direction)
	}
	if ser.Unit != "%" || ser.DisplayName != "HbA1c" {
		t.Errorf("unexpected descriptive fields: %q %q", ser.DisplayName, ser.Unit)
	}

	stored, _ := f.records.Get(ctx, last.ID)
	if stored.TrendingDirection == nil || *stored.TrendingDirection != DirectionWorsening {
		t.Errorf("expected denormalized worsening on record, got %v", stored.TrendingDirection)
	}
	if stored.LastValue == nil || *stored.LastValue != "9" {
		t.Errorf("expected denormalized last value 9, got %v", stored.LastValue)
	}
}

func TestLabResults_ExactParameterMatching(t *testing.T) {
	f := newFixture(t)
	f.lab(t, "Glucose", 95, "2024-01-01", nil)
	f.lab(t, "Fasting Glucose", 101, "2024-01-02", nil)

	items, err := f.trends.All(context.Background(), f.ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected separate series, got %d", len(items))
	}
	for _, s := range items {
		if len(s.Points) != 1 {
			t.Errorf("%s: expected 1 point, got %d", s.ParameterCode, len(s.Points))
		}
	}
}

func TestLabResults_NonNumericSkipped(t *testing.T) {
	f := newFixture(t)
	f.lab(t, "Urine culture", "no growth", "2024-01-01", nil)
	if _, err := f.trends.Lookup(context.Background(), f.ws.ID, "urine_culture"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected no series for a non-numeric result, got %v", err)
	}
}

func TestRebuild_ReflectsDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.lab(t, "LDL", 160, "2024-01-01", nil)
	second := f.lab(t, "LDL", 130, "2024-06-01", nil)

	if err := f.ledger.Delete(ctx, "doc-1", second.ID); err != nil {
		t.Fatal(err)
	}
	ser, err := f.trends.Lookup(ctx, f.ws.ID, "ldl")
	if err != nil {
		t.Fatal(err)
	}
	if len(ser.Points) != 1 || ser.LatestValue != "160" {
		t.Errorf("expected only the remaining point, got %+v", ser.Points)
	}

	if err := f.ledger.Delete(ctx, "doc-1", first.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.trends.Lookup(ctx, f.ws.ID, "ldl"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected series to be removed, got %v", err)
	}
}

func TestRebuildWorkspace_DropsOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.lab(t, "TSH", 2.1, "2024-01-01", nil)
	orphan := &Series{WorkspaceID: f.ws.ID, ParameterCode: "ferritin", DisplayName: "Ferritin", Points: []Point{{Date: time.Now(), Value: "40"}}}
	if err := f.series.Upsert(ctx, orphan); err != nil {
		t.Fatal(err)
	}

	n, err := f.trends.RebuildWorkspace(ctx, f.ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 parameters processed, got %d", n)
	}
	if _, err := f.trends.Lookup(ctx, f.ws.ID, "ferritin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected orphan series removed, got %v", err)
	}
	if _, err := f.trends.Lookup(ctx, f.ws.ID, "tsh"); err != nil {
		t.Errorf("expected tsh series to survive, got %v", err)
	}
}

func TestGet_RequiresMembership(t *testing.T) {
	f := newFixture(t)
	f.lab(t, "TSH", 2.1, "2024-01-01", nil)
	if _, err := f.trends.Get(context.Background(), "stranger", f.ws.ID, "tsh"); !errors.Is(err, workspace.ErrAccessDenied) {
		t.Errorf("expected access denied, got %v", err)
	}
	if _, err := f.trends.Get(context.Background(), "pat-1", uuid.New(), "tsh"); !errors.Is(err, workspace.ErrNotFound) {
		t.Errorf("expected workspace not found, got %v", err)
	}
}

func TestSeries_Stale(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)
	s := &Series{UpdatedAt: now}
	if !s.Stale() {
		t.Error("uninterpreted series must be stale")
	}
	s.InterpretedAt = &earlier
	if !s.Stale() {
		t.Error("interpretation older than the data must be stale")
	}
	s.InterpretedAt = &now
	if s.Stale() {
		t.Error("fresh interpretation reported stale")
	}
}
