package domain

// RuleConfig defines a user rule written as a CEL expression.
// The expression is evaluated against the variables data (the record),
// schema (the schema name) and shape; when it yields true the rule emits
// one finding built from the fields below.
type RuleConfig struct {
	ID          string `json:"id" yaml:"id"`
	TenantID    string `json:"tenantId" yaml:"-"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Version     string `json:"version" yaml:"version"`

	// CEL expression to evaluate
	Expression string `json:"expression" yaml:"expression"`

	// Shapes the rule applies to; empty means every schema
	Shapes []Shape `json:"shapes,omitempty" yaml:"shapes,omitempty"`

	// Finding emitted when the expression holds
	Severity         Severity `json:"severity" yaml:"severity"`
	Message          string   `json:"message" yaml:"message"`
	FieldReference   string   `json:"fieldReference,omitempty" yaml:"fieldReference,omitempty"`
	ConfidenceImpact float64  `json:"confidenceImpact" yaml:"confidenceImpact"`
	FraudWeight      float64  `json:"fraudWeight" yaml:"fraudWeight"` // > 0 marks the finding as a fraud signal

	// Whether rule is active
	Enabled bool `json:"enabled" yaml:"-"`
}

// RuleInfo describes a registered rule.
type RuleInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
