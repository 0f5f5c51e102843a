package condition

import (
	"fmt"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
)

const (
	resultVar = "__matched"
	prelude   = "math := import(\"math\")\ntext := import(\"text\")\ntimes := import(\"times\")\n"
)

// CompileExpression compiles a tengo boolean expression over `record`, e.g.
// `record.price > 100 && text.has_prefix(record.sku, "PRO-")`. The math,
// text and times modules are in scope. Runtime errors evaluate to false.
func CompileExpression(expr string) (Predicate, error) {
	compiled, err := compile(expr)
	if err != nil {
		return nil, err
	}

	return func(fields map[string]any) bool {
		ok, err := evaluate(compiled, fields)
		return err == nil && ok
	}, nil
}

// Evaluate runs expr once against fields and surfaces runtime errors.
func Evaluate(expr string, fields map[string]any) (bool, error) {
	compiled, err := compile(expr)
	if err != nil {
		return false, err
	}
	return evaluate(compiled, fields)
}

func compile(expr string) (*tengo.Compiled, error) {
	script := tengo.NewScript([]byte(fmt.Sprintf("%s%s := (%s)", prelude, resultVar, expr)))
	script.SetImports(stdlib.GetModuleMap("math", "text", "times"))

	if err := script.Add("record", map[string]interface{}{}); err != nil {
		return nil, err
	}

	compiled, err := script.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to compile condition: %w", err)
	}
	return compiled, nil
}

func evaluate(compiled *tengo.Compiled, fields map[string]any) (bool, error) {
	run := compiled.Clone()
	if err := run.Set("record", scriptValue(fields)); err != nil {
		return false, err
	}
	if err := run.Run(); err != nil {
		return false, fmt.Errorf("failed to run condition: %w", err)
	}
	return run.Get(resultVar).Bool(), nil
}

// scriptValue converts values tengo.FromInterface cannot take.
func scriptValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = scriptValue(item)
		}
		return out
	case []any:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = scriptValue(item)
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	case nil, string, bool, int, int64, float64, time.Time, []byte:
		return t
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
