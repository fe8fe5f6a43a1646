package ledger

import (
	"errors"
	"testing"
)

func TestValidateCategoryData(t *testing.T) {
	tests := []struct {
		name     string
		category string
		data     map[string]any
		wantErr  error
	}{
		{"medication ok", CategoryMedication, map[string]any{"dosage": "500mg", "frequency": "BID"}, nil},
		{"medication wrong type", CategoryMedication, map[string]any{"dosage": 500.0}, ErrValidation},
		{"unknown keys preserved", CategoryAllergy, map[string]any{"reaction": "hives", "notes_from_scan": 3.0}, nil},
		{"lab ok numeric", CategoryLabResult, map[string]any{"test_name": "HbA1c", "result_value": 7.2, "abnormal": true}, nil},
		{"lab ok string", CategoryLabResult, map[string]any{"test_name": "Urine culture", "result_value": "negative"}, nil},
		{"lab missing value", CategoryLabResult, map[string]any{"test_name": "HbA1c"}, nil},
		{"lab blank value", CategoryLabResult, map[string]any{"test_name": "HbA1c", "result_value": ""}, nil},
		{"lab missing name", CategoryLabResult, map[string]any{"result_value": 7.2}, ErrValidation},
		{"lab empty name", CategoryLabResult, map[string]any{"test_name": "  ", "result_value": 7.2}, ErrValidation},
		{"lab abnormal not bool", CategoryLabResult, map[string]any{"test_name": "LDL", "result_value": 130.0, "abnormal": "yes"}, ErrValidation},
		{"lab reference_min string", CategoryLabResult, map[string]any{"test_name": "LDL", "result_value": 130.0, "reference_min": "0"}, ErrValidation},
		{"unknown category", "vaccine", map[string]any{}, ErrInvalidCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCategoryData(tt.category, tt.data)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNormalizeParameter(t *testing.T) {
	tests := map[string]string{
		"HbA1c":                  "hba1c",
		"  Fasting Glucose  ":    "fasting_glucose",
		"LDL-Cholesterol (calc)": "ldl_cholesterol_calc",
		"T4, free":               "t4_free",
		"---":                    "",
	}
	for in, want := range tests {
		if got := NormalizeParameter(in); got != want {
			t.Errorf("NormalizeParameter(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParameterCodeFor(t *testing.T) {
	if got := ParameterCodeFor(map[string]any{"test_name": "Fasting Glucose", "parameter_code": "GLU-F"}); got != "glu_f" {
		t.Errorf("expected explicit code to win, got %q", got)
	}
	if got := ParameterCodeFor(map[string]any{"test_name": "Fasting Glucose"}); got != "fasting_glucose" {
		t.Errorf("expected normalized test name, got %q", got)
	}
	// Related but distinct tests never share a code.
	if ParameterCodeFor(map[string]any{"test_name": "Glucose"}) == ParameterCodeFor(map[string]any{"test_name": "Fasting Glucose"}) {
		t.Error("distinct test names must not collapse to one parameter")
	}
}

func TestResultValue(t *testing.T) {
	if v, ok := ResultValue(map[string]any{"result_value": 7.0}); !ok || v != "7" {
		t.Errorf("expected \"7\", got %q ok=%v", v, ok)
	}
	if v, ok := ResultValue(map[string]any{"result_value": " 6.5 "}); !ok || v != "6.5" {
		t.Errorf("expected \"6.5\", got %q ok=%v", v, ok)
	}
	if _, ok := ResultValue(map[string]any{}); ok {
		t.Error("expected missing value to report false")
	}
	if _, ok := NumericValue("positive"); ok {
		t.Error("expected non-numeric value to fail parsing")
	}
}
