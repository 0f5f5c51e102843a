package bulk_schedule

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Schedule applies a saved template to a module's records on a cron
// expression.
type Schedule struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Name       string             `json:"name" bson:"name"`
	TemplateID string             `json:"template_id" bson:"template_id"`
	ModuleName string             `json:"module_name" bson:"module_name"`
	Filters    map[string]any     `json:"filters,omitempty" bson:"filters,omitempty"`
	Cron       string             `json:"cron" bson:"cron"`
	Enabled    bool               `json:"enabled" bson:"enabled"`
	LastRunAt  *time.Time         `json:"last_run_at,omitempty" bson:"last_run_at,omitempty"`
	NextRunAt  *time.Time         `json:"next_run_at,omitempty" bson:"next_run_at,omitempty"`
	LastResult *RunSummary        `json:"last_result,omitempty" bson:"last_result,omitempty"`
	CreatedAt  time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at" bson:"updated_at"`
}

// RunSummary is the outcome of the most recent tick.
type RunSummary struct {
	OperationID  string `json:"operation_id,omitempty" bson:"operation_id,omitempty"`
	SuccessCount int    `json:"success_count" bson:"success_count"`
	FailureCount int    `json:"failure_count" bson:"failure_count"`
	Skipped      bool   `json:"skipped,omitempty" bson:"skipped,omitempty"`
	Error        string `json:"error,omitempty" bson:"error,omitempty"`
}
