package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindBool
	kindStringOrNumber
)

func (k fieldKind) String() string {
	switch k {
	case kindNumber:
		return "number"
	case kindBool:
		return "boolean"
	case kindStringOrNumber:
		return "string or number"
	default:
		return "string"
	}
}

type fieldRule struct {
	kind     fieldKind
	required bool
}

// Known categoryData keys per category. Keys outside the table are kept
// as-is; known keys must have the listed type.
var categoryFields = map[string]map[string]fieldRule{
	CategoryMedication: {
		"dosage": {kind: kindString}, "frequency": {kind: kindString},
		"route": {kind: kindString}, "purpose": {kind: kindString},
	},
	CategoryAllergy: {
		"reaction": {kind: kindString}, "allergen_type": {kind: kindString},
	},
	CategorySurgery: {
		"procedure_date": {kind: kindString}, "hospital": {kind: kindString}, "surgeon": {kind: kindString},
	},
	CategoryVisit: {
		"visit_type": {kind: kindString}, "provider": {kind: kindString},
	},
	CategoryCondition: {
		"diagnosed_by": {kind: kindString}, "icd_code": {kind: kindString},
	},
	CategoryLabResult: {
		"test_name":       {kind: kindString, required: true},
		"result_value":    {kind: kindStringOrNumber},
		"unit":            {kind: kindString},
		"reference_range": {kind: kindString},
		"reference_min":   {kind: kindNumber},
		"reference_max":   {kind: kindNumber},
		"abnormal":        {kind: kindBool},
		"parameter_code":  {kind: kindString},
		"ocr_confidence":  {kind: kindNumber},
	},
}

// ValidateCategoryData checks data against the shape for category.
func ValidateCategoryData(category string, data map[string]any) error {
	rules, ok := categoryFields[category]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rule := rules[key]
		v, present := data[key]
		if !present || v == nil {
			if rule.required {
				return fmt.Errorf("%w: category_data.%s is required for %s", ErrValidation, key, category)
			}
			continue
		}
		if !matchesKind(v, rule.kind) {
			return fmt.Errorf("%w: category_data.%s must be a %s", ErrValidation, key, rule.kind)
		}
		if rule.required {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				return fmt.Errorf("%w: category_data.%s must not be empty", ErrValidation, key)
			}
		}
	}
	return nil
}

func matchesKind(v any, k fieldKind) bool {
	switch k {
	case kindString:
		_, ok := v.(string)
		return ok
	case kindNumber:
		return isNumber(v)
	case kindBool:
		_, ok := v.(bool)
		return ok
	case kindStringOrNumber:
		if _, ok := v.(string); ok {
			return true
		}
		return isNumber(v)
	}
	return false
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64, json.Number:
		return true
	}
	return false
}

func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// NormalizeParameter lower-cases name and collapses runs of
// non-alphanumerics into a single underscore.
func NormalizeParameter(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// ParameterCodeFor derives the trend key of a lab result: the explicit
// parameter_code when present, else the normalized test name.
func ParameterCodeFor(data map[string]any) string {
	if code, ok := data["parameter_code"].(string); ok && strings.TrimSpace(code) != "" {
		return NormalizeParameter(code)
	}
	if name, ok := data["test_name"].(string); ok {
		return NormalizeParameter(name)
	}
	return ""
}

// ResultValue renders result_value as a string.
func ResultValue(data map[string]any) (string, bool) {
	v, ok := data["result_value"]
	if !ok || v == nil {
		return "", false
	}
	if s, isStr := v.(string); isStr {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	if f, isNum := numberOf(v); isNum {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

// NumericValue parses a rendered result value.
func NumericValue(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func IsAbnormal(data map[string]any) bool {
	b, _ := data["abnormal"].(bool)
	return b
}

// ReferenceBounds returns reference_min and reference_max when set.
func ReferenceBounds(data map[string]any) (lo, hi *float64) {
	if f, ok := numberOf(data["reference_min"]); ok {
		lo = &f
	}
	if f, ok := numberOf(data["reference_max"]); ok {
		hi = &f
	}
	return lo, hi
}

func StringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
