package trend

import (
	"testing"
	"time"
)

func pointsOf(abnormalLatest bool, values ...string) []Point {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pts := make([]Point, len(values))
	for i, v := range values {
		pts[i] = Point{Date: base.AddDate(0, i, 0), Value: v}
	}
	if len(pts) > 0 {
		pts[len(pts)-1].IsAbnormal = abnormalLatest
	}
	return pts
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		abnormal bool
		values   []string
		want     string
	}{
		{"flat", false, []string{"10", "10", "10", "10"}, DirectionStable},
		{"rising while abnormal", true, []string{"5", "5", "9", "9"}, DirectionWorsening},
		{"rising while normal", false, []string{"5", "5", "9", "9"}, DirectionImproving},
		{"falling while abnormal", true, []string{"9", "9", "5", "5"}, DirectionImproving},
		{"falling while normal", false, []string{"9", "9", "5", "5"}, DirectionWorsening},
		{"small drift", false, []string{"100", "100", "104", "104"}, DirectionStable},
		{"between thresholds", false, []string{"100", "100", "107", "107"}, DirectionFluctuating},
		{"odd count puts middle in later half", false, []string{"10", "20", "20"}, DirectionImproving},
		{"single point", false, []string{"7.1"}, DirectionUnknown},
		{"no points", false, nil, DirectionUnknown},
		{"non-numeric", false, []string{"5", "positive", "9"}, DirectionUnknown},
		{"all zero", false, []string{"0", "0"}, DirectionStable},
		{"zero baseline", false, []string{"0", "5"}, DirectionUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(pointsOf(tt.abnormal, tt.values...)); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	pts := pointsOf(true, "6.8", "7.2", "7.9", "8.4", "8.1")
	first := Classify(pts)
	for i := 0; i < 100; i++ {
		if got := Classify(pts); got != first {
			t.Fatalf("run %d: expected %s, got %s", i, first, got)
		}
	}
}
