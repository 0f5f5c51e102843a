package bulk_template

import "time"

// Template is a named, reusable set of unconditional field updates.
type Template struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	OperationName string         `json:"operation_name"`
	Fields        map[string]any `json:"fields"`
	CreatedAt     time.Time      `json:"created_at"`
	UsageCount    int            `json:"usage_count"`
}

type CreateTemplateRequest struct {
	Name          string         `json:"name" yaml:"name"`
	Description   string         `json:"description" yaml:"description"`
	OperationName string         `json:"operation_name" yaml:"operation_name"`
	Fields        map[string]any `json:"fields" yaml:"fields"`
}
