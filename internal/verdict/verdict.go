// Package verdict reduces rule findings into a single verdict.
package verdict

import (
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Lower bounds of the fraud risk buckets, applied to the capped fraud weight.
const (
	LowRisk      = 0.01
	MediumRisk   = 0.2
	HighRisk     = 0.5
	CriticalRisk = 0.8
)

// Aggregate holds the totals of a finding sequence.
type Aggregate struct {
	Errors            []string
	Warnings          []string
	FraudReasons      []string
	ConfidencePenalty float64
	FraudWeight       float64 // capped at 1.0
	Infos             int
}

// Aggregates computes the totals of findings, preserving their order.
func Aggregates(findings []domain.Finding) *Aggregate {
	agg := &Aggregate{
		Errors:       []string{},
		Warnings:     []string{},
		FraudReasons: []string{},
	}

	for _, f := range findings {
		switch f.Severity {
		case domain.SeverityError:
			agg.Errors = append(agg.Errors, f.Message)
		case domain.SeverityWarning:
			agg.Warnings = append(agg.Warnings, f.Message)
		default:
			agg.Infos++
			slog.Debug("info finding", "rule", f.RuleName, "message", f.Message, "field", f.FieldReference)
		}

		agg.ConfidencePenalty += f.ConfidenceImpact
		if f.IsFraudSignal {
			agg.FraudReasons = append(agg.FraudReasons, f.Message)
			agg.FraudWeight += f.Weight()
		}
	}

	if agg.FraudWeight > 1.0 {
		agg.FraudWeight = 1.0
	}
	return agg
}

// Reduce builds the verdict for findings produced by the rules in rulesChecked.
func Reduce(findings []domain.Finding, rulesChecked []string) domain.Verdict {
	return ReduceAt(findings, rulesChecked, time.Now().UTC())
}

// ReduceAt is Reduce with an explicit timestamp.
func ReduceAt(findings []domain.Finding, rulesChecked []string, now time.Time) domain.Verdict {
	agg := Aggregates(findings)

	checked := make([]string, len(rulesChecked))
	copy(checked, rulesChecked)

	risk := domain.FraudRiskClean
	if len(agg.FraudReasons) > 0 {
		risk = Bucket(agg.FraudWeight)
	}

	return domain.Verdict{
		IsValid:      len(agg.Errors) == 0,
		Confidence:   clamp(1.0 - agg.ConfidencePenalty),
		FraudChecked: len(checked) > 0,
		FraudRisk:    risk,
		Errors:       agg.Errors,
		Warnings:     agg.Warnings,
		FraudReasons: agg.FraudReasons,
		RulesChecked: checked,
		Timestamp:    now,
	}
}

// Bucket maps a fraud weight to its risk bucket.
func Bucket(weight float64) domain.FraudRisk {
	switch {
	case weight < LowRisk:
		return domain.FraudRiskClean
	case weight < MediumRisk:
		return domain.FraudRiskLow
	case weight < HighRisk:
		return domain.FraudRiskMedium
	case weight < CriticalRisk:
		return domain.FraudRiskHigh
	default:
		return domain.FraudRiskCritical
	}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ShouldAlert returns true if the verdict is invalid or its fraud risk is at least threshold.
func ShouldAlert(v domain.Verdict, threshold domain.FraudRisk) bool {
	if !v.IsValid {
		return true
	}
	if threshold.Rank() < 0 {
		threshold = domain.FraudRiskHigh
	}
	return v.FraudRisk.Rank() >= threshold.Rank()
}

// Reasons extracts human-readable reasons from a verdict: errors first, then
// fraud reasons not already listed.
func Reasons(v domain.Verdict) []string {
	seen := make(map[string]struct{}, len(v.Errors)+len(v.FraudReasons))
	var reasons []string
	for _, list := range [][]string{v.Errors, v.FraudReasons} {
		for _, r := range list {
			if _, dup := seen[r]; dup || r == "" {
				continue
			}
			seen[r] = struct{}{}
			reasons = append(reasons, r)
		}
	}
	return reasons
}
