package verdict

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func finding(sev domain.Severity, msg string, impact float64, fraud bool, weight float64) domain.Finding {
	return domain.Finding{
		RuleName:         "test",
		Severity:         sev,
		Message:          msg,
		ConfidenceImpact: impact,
		IsFraudSignal:    fraud,
		FraudWeight:      weight,
	}
}

func TestReduce(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	t.Run("NoFindings", func(t *testing.T) {
		v := ReduceAt(nil, []string{"a", "b"}, now)

		if !v.IsValid {
			t.Error("expected valid verdict")
		}
		if v.Confidence != 1.0 {
			t.Errorf("expected confidence 1.0, got %v", v.Confidence)
		}
		if !v.FraudChecked {
			t.Error("expected fraudChecked with rules checked")
		}
		if v.FraudRisk != domain.FraudRiskClean {
			t.Errorf("expected clean, got %s", v.FraudRisk)
		}
		if v.Errors == nil || v.Warnings == nil || v.FraudReasons == nil {
			t.Error("expected empty, non-nil message lists")
		}
		if !v.Timestamp.Equal(now) {
			t.Errorf("expected timestamp %v, got %v", now, v.Timestamp)
		}
	})

	t.Run("NothingChecked", func(t *testing.T) {
		v := Reduce(nil, nil)
		if v.FraudChecked {
			t.Error("expected fraudChecked false when no rule ran")
		}
		if v.FraudRisk != domain.FraudRiskClean {
			t.Errorf("expected clean, got %s", v.FraudRisk)
		}
	})

	t.Run("Partition", func(t *testing.T) {
		findings := []domain.Finding{
			finding(domain.SeverityWarning, "w1", 0.05, false, 0),
			finding(domain.SeverityError, "e1", 0.15, true, 0.3),
			finding(domain.SeverityInfo, "i1", 0, false, 0),
			finding(domain.SeverityWarning, "w2", 0.05, true, 0.1),
		}
		v := ReduceAt(findings, []string{"test"}, now)

		if v.IsValid {
			t.Error("expected invalid verdict with an error finding")
		}
		if !reflect.DeepEqual(v.Errors, []string{"e1"}) {
			t.Errorf("unexpected errors %v", v.Errors)
		}
		if !reflect.DeepEqual(v.Warnings, []string{"w1", "w2"}) {
			t.Errorf("unexpected warnings %v", v.Warnings)
		}
		if !reflect.DeepEqual(v.FraudReasons, []string{"e1", "w2"}) {
			t.Errorf("unexpected fraud reasons %v", v.FraudReasons)
		}
		if math.Abs(v.Confidence-0.75) > 1e-9 {
			t.Errorf("expected confidence 0.75, got %v", v.Confidence)
		}
		if v.FraudRisk != domain.FraudRiskMedium {
			t.Errorf("expected medium (0.4), got %s", v.FraudRisk)
		}
	})

	t.Run("WeightWithoutFlagIgnored", func(t *testing.T) {
		findings := []domain.Finding{finding(domain.SeverityWarning, "w", 0, false, 0.9)}
		v := ReduceAt(findings, []string{"test"}, now)
		if v.FraudRisk != domain.FraudRiskClean {
			t.Errorf("expected clean, got %s", v.FraudRisk)
		}
		if len(v.FraudReasons) != 0 {
			t.Errorf("expected no fraud reasons, got %v", v.FraudReasons)
		}
	})

	t.Run("TinyFraudWeightIsClean", func(t *testing.T) {
		findings := []domain.Finding{finding(domain.SeverityWarning, "w", 0, true, 0.005)}
		v := ReduceAt(findings, []string{"test"}, now)
		if v.FraudRisk != domain.FraudRiskClean {
			t.Errorf("expected clean, got %s", v.FraudRisk)
		}
		if len(v.FraudReasons) != 1 {
			t.Errorf("expected the signal to be reported, got %v", v.FraudReasons)
		}
	})

	t.Run("ClampedOnce", func(t *testing.T) {
		findings := []domain.Finding{
			finding(domain.SeverityWarning, "a", 0.8, false, 0),
			finding(domain.SeverityWarning, "b", 0.8, false, 0),
			finding(domain.SeverityInfo, "c", -0.7, false, 0),
		}
		v := ReduceAt(findings, []string{"test"}, now)
		if math.Abs(v.Confidence-0.1) > 1e-9 {
			t.Errorf("expected confidence 0.1 from the pure sum, got %v", v.Confidence)
		}
	})

	t.Run("FraudWeightCapped", func(t *testing.T) {
		findings := []domain.Finding{
			finding(domain.SeverityError, "a", 0.15, true, 0.9),
			finding(domain.SeverityError, "b", 0.15, true, 0.9),
		}
		agg := Aggregates(findings)
		if agg.FraudWeight != 1.0 {
			t.Errorf("expected capped weight 1.0, got %v", agg.FraudWeight)
		}
		if ReduceAt(findings, []string{"test"}, now).FraudRisk != domain.FraudRiskCritical {
			t.Error("expected critical")
		}
	})

	t.Run("RulesCheckedCopied", func(t *testing.T) {
		checked := []string{"a"}
		v := ReduceAt(nil, checked, now)
		checked[0] = "mutated"
		if v.RulesChecked[0] != "a" {
			t.Error("verdict must not share the caller's slice")
		}
	})
}

func TestBucket(t *testing.T) {
	tests := []struct {
		weight float64
		want   domain.FraudRisk
	}{
		{0, domain.FraudRiskClean},
		{0.0099, domain.FraudRiskClean},
		{0.01, domain.FraudRiskLow},
		{0.15, domain.FraudRiskLow},
		{0.2, domain.FraudRiskMedium},
		{0.3, domain.FraudRiskMedium},
		{0.5, domain.FraudRiskHigh},
		{0.79, domain.FraudRiskHigh},
		{0.8, domain.FraudRiskCritical},
		{1.0, domain.FraudRiskCritical},
	}
	for _, tt := range tests {
		if got := Bucket(tt.weight); got != tt.want {
			t.Errorf("Bucket(%v) = %s, want %s", tt.weight, got, tt.want)
		}
	}
}

func TestShouldAlert(t *testing.T) {
	tests := []struct {
		name      string
		verdict   domain.Verdict
		threshold domain.FraudRisk
		want      bool
	}{
		{"invalid", domain.Verdict{IsValid: false, FraudRisk: domain.FraudRiskClean}, domain.FraudRiskHigh, true},
		{"medium below high", domain.Verdict{IsValid: true, FraudRisk: domain.FraudRiskMedium}, domain.FraudRiskHigh, false},
		{"high at high", domain.Verdict{IsValid: true, FraudRisk: domain.FraudRiskHigh}, domain.FraudRiskHigh, true},
		{"low at low", domain.Verdict{IsValid: true, FraudRisk: domain.FraudRiskLow}, domain.FraudRiskLow, true},
		{"unknown threshold defaults to high", domain.Verdict{IsValid: true, FraudRisk: domain.FraudRiskMedium}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldAlert(tt.verdict, tt.threshold); got != tt.want {
				t.Errorf("ShouldAlert() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReasons(t *testing.T) {
	v := domain.Verdict{
		Errors:       []string{"negative total"},
		FraudReasons: []string{"negative total", "round number"},
	}
	got := Reasons(v)
	want := []string{"negative total", "round number"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Reasons() = %v, want %v", got, want)
	}
	if Reasons(domain.Verdict{}) != nil {
		t.Error("expected nil reasons for a clean verdict")
	}
}
