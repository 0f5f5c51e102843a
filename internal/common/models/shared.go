package models

type RuleType string

const (
	RuleTypeStatic   RuleType = "static"
	RuleTypeVariable RuleType = "variable"
)

// Rule compares one record field against a value.
type Rule struct {
	Field    string      `json:"field" bson:"field" yaml:"field"`
	Operator string      `json:"operator" bson:"operator" yaml:"operator"` // eq, ne, gt, lt, gte, lte, in, nin, contains, startsWith, endsWith, empty, notEmpty
	Value    interface{} `json:"value" bson:"value" yaml:"value"`
	Type     RuleType    `json:"type,omitempty" bson:"type,omitempty" yaml:"type,omitempty"`
}

type RuleGroup struct {
	Operator string      `json:"operator" bson:"operator" yaml:"operator"` // "AND" | "OR"
	Rules    []Rule      `json:"rules" bson:"rules" yaml:"rules"`
	Groups   []RuleGroup `json:"groups,omitempty" bson:"groups,omitempty" yaml:"groups,omitempty"`
}

// Condition is the serialisable form of a field update condition. Either a
// rule group or a tengo expression over `record`; both must hold when set.
type Condition struct {
	Group      *RuleGroup `json:"group,omitempty" bson:"group,omitempty" yaml:"group,omitempty"`
	Expression string     `json:"expression,omitempty" bson:"expression,omitempty" yaml:"expression,omitempty"`
}

func (c *Condition) IsZero() bool {
	return c == nil || (c.Group == nil && c.Expression == "")
}
