package bulk_operation

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
)

// ValidateUpdates rejects an update list with a blank field name or an
// undefined (nil) value.
func ValidateUpdates(updates []FieldUpdate) error {
	for i, u := range updates {
		if strings.TrimSpace(u.Field) == "" {
			return &ValidationError{Index: i, Message: "field name is required"}
		}
		if u.Value == nil {
			return &ValidationError{Index: i, Field: u.Field, Message: "value is required"}
		}
	}
	return nil
}

// ItemRules are the business rules checked on each record after updates are
// applied and before it is handed to the sink.
type ItemRules struct {
	RequiredFields    []string
	NonNegativeFields []string
}

func DefaultItemRules() ItemRules {
	return ItemRules{
		RequiredFields:    []string{"name"},
		NonNegativeFields: []string{"price"},
	}
}

// Check inspects only the fields in touched so untouched legacy data never
// fails a run it was not part of.
func (r ItemRules) Check(rec Record, touched map[string]bool) error {
	for _, f := range r.RequiredFields {
		if !touched[f] {
			continue
		}
		if isEmpty(rec.Fields[f]) {
			return &RuleViolation{Field: f, Message: "cannot be empty"}
		}
	}
	for _, f := range r.NonNegativeFields {
		if !touched[f] {
			continue
		}
		if n, ok := toFloat(rec.Fields[f]); ok && n < 0 {
			return &RuleViolation{Field: f, Message: "cannot be negative"}
		}
	}
	return nil
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		// numeric strings are common in imported product sheets
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && strings.TrimSpace(n) != ""
	}
	return 0, false
}

func isNumber(v any) bool {
	if _, ok := v.(string); ok {
		return false
	}
	_, ok := toFloat(v)
	return ok
}

// valuesEqual treats numbers of different Go types as equal when their
// values match, so 5 and 5.0 do not produce a write.
func valuesEqual(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}
