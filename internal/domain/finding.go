package domain

// Severity classifies a finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Finding is one observation emitted by a single rule evaluation.
type Finding struct {
	RuleName         string   `json:"ruleName"`
	Severity         Severity `json:"severity"`
	Message          string   `json:"message"`
	FieldReference   string   `json:"fieldReference,omitempty"` // e.g. "line_items[2].amount"
	ConfidenceImpact float64  `json:"confidenceImpact"`
	IsFraudSignal    bool     `json:"isFraudSignal"`
	FraudWeight      float64  `json:"fraudWeight"`
}

// Weight returns the fraud weight the finding contributes.
// A weight on a finding that is not flagged as a fraud signal counts as zero.
func (f Finding) Weight() float64 {
	if !f.IsFraudSignal {
		return 0
	}
	return f.FraudWeight
}
