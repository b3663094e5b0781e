package domain

import "time"

// FraudRisk is the probability bucket of a record being fraudulent.
type FraudRisk string

const (
	FraudRiskClean    FraudRisk = "clean"
	FraudRiskLow      FraudRisk = "low"
	FraudRiskMedium   FraudRisk = "medium"
	FraudRiskHigh     FraudRisk = "high"
	FraudRiskCritical FraudRisk = "critical"
)

// Rank orders risk buckets from clean (0) to critical (4). Unknown buckets rank -1.
func (r FraudRisk) Rank() int {
	switch r {
	case FraudRiskClean:
		return 0
	case FraudRiskLow:
		return 1
	case FraudRiskMedium:
		return 2
	case FraudRiskHigh:
		return 3
	case FraudRiskCritical:
		return 4
	default:
		return -1
	}
}

// ParseFraudRisk converts a bucket name.
func ParseFraudRisk(s string) (FraudRisk, bool) {
	r := FraudRisk(s)
	return r, r.Rank() >= 0
}

// Verdict is the engine's output for one validation call.
type Verdict struct {
	IsValid      bool      `json:"isValid"`
	Confidence   float64   `json:"confidence"`
	FraudChecked bool      `json:"fraudChecked"`
	FraudRisk    FraudRisk `json:"fraudRisk"`
	Errors       []string  `json:"errors"`
	Warnings     []string  `json:"warnings"`
	FraudReasons []string  `json:"fraudReasons"`
	RulesChecked []string  `json:"rulesChecked"`
	Timestamp    time.Time `json:"timestamp"`
}
