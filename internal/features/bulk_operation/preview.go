package bulk_operation

import (
	"fmt"
	"math"
)

type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// PreviewEntry is the dry-run outcome for one record.
type PreviewEntry struct {
	Record    Record                 `json:"record"`
	Changes   map[string]FieldChange `json:"changes"`
	Warnings  []string               `json:"warnings"`
	Conflicts []string               `json:"conflicts"`
}

func (p PreviewEntry) HasChanges() bool {
	return len(p.Changes) > 0
}

// PreviewRule inspects one proposed change. Returning a non-empty warning
// or conflict adds it to the entry.
type PreviewRule func(rec Record, field string, change FieldChange) (warning, conflict string)

// PriceCeiling marks prices above this value as implausible.
const PriceCeiling = 1_000_000

func DefaultPreviewRules() []PreviewRule {
	return []PreviewRule{
		featuredDeactivationRule,
		priceRule("price"),
		requiredFieldRule("name"),
	}
}

func featuredDeactivationRule(rec Record, field string, change FieldChange) (string, string) {
	if field != "isActive" && field != "is_active" {
		return "", ""
	}
	if active, ok := change.To.(bool); ok && !active {
		if featured, _ := rec.Fields["isFeatured"].(bool); featured {
			return "Deactivating a featured item", ""
		}
		if featured, _ := rec.Fields["is_featured"].(bool); featured {
			return "Deactivating a featured item", ""
		}
	}
	return "", ""
}

func priceRule(priceField string) PreviewRule {
	return func(_ Record, field string, change FieldChange) (string, string) {
		if field != priceField {
			return "", ""
		}
		to, ok := toFloat(change.To)
		if !ok {
			return "", ""
		}
		switch {
		case to < 0:
			return "Price is negative", ""
		case to > PriceCeiling:
			return fmt.Sprintf("Price %.2f is unusually high", to), ""
		}
		if from, ok := toFloat(change.From); ok && from > 0 {
			if delta := math.Abs(to-from) / from; delta > 0.5 {
				return fmt.Sprintf("Price changes by %.0f%%", delta*100), ""
			}
		}
		return "", ""
	}
}

func requiredFieldRule(required string) PreviewRule {
	return func(_ Record, field string, change FieldChange) (string, string) {
		if field == required && isEmpty(change.To) {
			return "", fmt.Sprintf("%s cannot be empty", required)
		}
		return "", ""
	}
}

type Previewer struct {
	Rules []PreviewRule
}

func NewPreviewer(rules ...PreviewRule) *Previewer {
	if len(rules) == 0 {
		rules = DefaultPreviewRules()
	}
	return &Previewer{Rules: rules}
}

// GeneratePreview computes the diff of updates against items with the
// default rules. Nothing is mutated.
func GeneratePreview(items []Record, updates []FieldUpdate) []PreviewEntry {
	return NewPreviewer().Generate(items, updates)
}

func (p *Previewer) Generate(items []Record, updates []FieldUpdate) []PreviewEntry {
	entries := make([]PreviewEntry, 0, len(items))
	for _, item := range items {
		entry := PreviewEntry{
			Record:    item,
			Changes:   make(map[string]FieldChange),
			Warnings:  []string{},
			Conflicts: []string{},
		}
		for _, u := range updates {
			if u.Condition != nil && !u.Condition(item) {
				continue
			}
			current, present := item.Fields[u.Field]
			if (present && valuesEqual(current, u.Value)) || (!present && u.Value == nil) {
				continue
			}
			change := FieldChange{From: current, To: u.Value}
			entry.Changes[u.Field] = change

			for _, rule := range p.Rules {
				warning, conflict := rule(item, u.Field, change)
				if warning != "" {
					entry.Warnings = append(entry.Warnings, warning)
				}
				if conflict != "" {
					entry.Conflicts = append(entry.Conflicts, conflict)
				}
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

type PreviewSummary struct {
	Total       int `json:"total"`
	Changed     int `json:"changed"`
	Unchanged   int `json:"unchanged"`
	WithWarning int `json:"with_warning"`
	Blocked     int `json:"blocked"`
}

func Summarize(entries []PreviewEntry) PreviewSummary {
	s := PreviewSummary{Total: len(entries)}
	for _, e := range entries {
		if e.HasChanges() {
			s.Changed++
		} else {
			s.Unchanged++
		}
		if len(e.Warnings) > 0 {
			s.WithWarning++
		}
		if len(e.Conflicts) > 0 {
			s.Blocked++
		}
	}
	return s
}
