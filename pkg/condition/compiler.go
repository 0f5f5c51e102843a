package condition

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"go-crm-bulk/internal/common/models"
)

// Predicate reports whether a record's fields satisfy a condition.
type Predicate func(fields map[string]any) bool

type Compiler struct {
	Context map[string]interface{}
	now     func() time.Time
}

func NewCompiler(ctx map[string]interface{}) *Compiler {
	return &Compiler{Context: ctx, now: time.Now}
}

// CompileCondition combines the group and expression of c. A zero condition
// compiles to nil, which matches everything.
func (c *Compiler) CompileCondition(cond *models.Condition) (Predicate, error) {
	if cond.IsZero() {
		return nil, nil
	}

	var preds []Predicate
	if cond.Group != nil {
		p, err := c.Compile(cond.Group)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	if cond.Expression != "" {
		p, err := CompileExpression(cond.Expression)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return all(preds), nil
}

func (c *Compiler) Compile(group *models.RuleGroup) (Predicate, error) {
	if group == nil {
		return func(map[string]any) bool { return true }, nil
	}

	var preds []Predicate

	for _, rule := range group.Rules {
		p, err := c.compileRule(rule)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}

	for i := range group.Groups {
		p, err := c.Compile(&group.Groups[i])
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}

	if len(preds) == 0 {
		return func(map[string]any) bool { return true }, nil
	}

	if strings.ToUpper(group.Operator) == "OR" {
		return any_(preds), nil
	}
	return all(preds), nil
}

func all(preds []Predicate) Predicate {
	return func(fields map[string]any) bool {
		for _, p := range preds {
			if !p(fields) {
				return false
			}
		}
		return true
	}
}

func any_(preds []Predicate) Predicate {
	return func(fields map[string]any) bool {
		for _, p := range preds {
			if p(fields) {
				return true
			}
		}
		return false
	}
}

func (c *Compiler) compileRule(rule models.Rule) (Predicate, error) {
	if rule.Field == "" {
		return nil, fmt.Errorf("rule field is required")
	}
	val, err := c.resolveValue(rule.Value, rule.Type)
	if err != nil {
		return nil, err
	}

	field := rule.Field

	switch rule.Operator {
	case "eq", "":
		return func(f map[string]any) bool { return equal(f[field], val) }, nil
	case "ne":
		return func(f map[string]any) bool { return !equal(f[field], val) }, nil
	case "gt":
		return func(f map[string]any) bool { n, ok := compare(f[field], val); return ok && n > 0 }, nil
	case "lt":
		return func(f map[string]any) bool { n, ok := compare(f[field], val); return ok && n < 0 }, nil
	case "gte":
		return func(f map[string]any) bool { n, ok := compare(f[field], val); return ok && n >= 0 }, nil
	case "lte":
		return func(f map[string]any) bool { n, ok := compare(f[field], val); return ok && n <= 0 }, nil
	case "in", "nin":
		list, ok := toList(val)
		if !ok {
			return nil, fmt.Errorf("%s operator requires a list value", rule.Operator)
		}
		negate := rule.Operator == "nin"
		return func(f map[string]any) bool {
			found := false
			for _, item := range list {
				if equal(f[field], item) {
					found = true
					break
				}
			}
			return found != negate
		}, nil
	case "contains":
		strVal, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("contains operator requires string value")
		}
		return stringMatch(field, strVal, strings.Contains), nil
	case "startsWith", "starts_with":
		strVal, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("startsWith operator requires string value")
		}
		return stringMatch(field, strVal, strings.HasPrefix), nil
	case "endsWith", "ends_with":
		strVal, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("endsWith operator requires string value")
		}
		return stringMatch(field, strVal, strings.HasSuffix), nil
	case "empty":
		return func(f map[string]any) bool { return isEmpty(f[field]) }, nil
	case "notEmpty", "not_empty":
		return func(f map[string]any) bool { return !isEmpty(f[field]) }, nil
	default:
		return nil, fmt.Errorf("unknown operator: %s", rule.Operator)
	}
}

func (c *Compiler) resolveValue(val interface{}, ruleType models.RuleType) (interface{}, error) {
	if ruleType != models.RuleTypeVariable {
		return val, nil
	}

	strVal, ok := val.(string)
	if !ok || !strings.HasPrefix(strVal, "$") {
		return val, nil
	}

	key := strings.TrimPrefix(strVal, "$")
	if key == "now" {
		return c.now(), nil
	}
	if resolved, ok := c.Context[key]; ok {
		return resolved, nil
	}
	return nil, fmt.Errorf("variable not found in context: %s", key)
}

func stringMatch(field, want string, match func(s, sub string) bool) Predicate {
	want = strings.ToLower(want)
	return func(f map[string]any) bool {
		s, ok := f[field].(string)
		return ok && match(strings.ToLower(s), want)
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

func toList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := toTime(b); ok {
			return ta.Equal(tb)
		}
	}
	return reflect.DeepEqual(a, b)
}

// compare orders numbers, times and strings; ok is false for mixed kinds.
func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
