package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LoadRuleFile reads expression rule configurations from a YAML file of the form
//
//	rules:
//	  - name: large_cash_receipt
//	    expression: 'shape == "receipt" && has(data.total) && data.total > 5000'
//	    severity: warning
//	    message: Cash receipt above 5000
//	    fraudWeight: 0.1
//
// Rules without an explicit enabled flag are enabled.
func LoadRuleFile(path string) ([]*domain.RuleConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRuleFile(raw)
}

// ParseRuleFile parses the YAML rule document.
func ParseRuleFile(raw []byte) ([]*domain.RuleConfig, error) {
	var doc struct {
		Rules []struct {
			domain.RuleConfig `yaml:",inline"`
			Enabled           *bool `yaml:"enabled"`
		} `yaml:"rules"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	configs := make([]*domain.RuleConfig, 0, len(doc.Rules))
	for i := range doc.Rules {
		cfg := doc.Rules[i].RuleConfig
		cfg.Enabled = doc.Rules[i].Enabled == nil || *doc.Rules[i].Enabled
		if cfg.ID == "" {
			cfg.ID = cfg.Name
		}
		configs = append(configs, &cfg)
	}
	return configs, nil
}
