package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// GlobalTenantID owns the rule configurations shared by all tenants.
const GlobalTenantID = "*"

// engineFlags are the rule-set flags shared by validate, batch and rules.
type engineFlags struct {
	rulesFile  string
	noDefaults bool
}

// buildEngine creates the engine from configuration: built-in rules with the
// configured thresholds, then the expression rules of the rules file.
func buildEngine(cfg domain.EngineConfig, flags engineFlags) (*rules.Engine, *rules.Compiler, error) {
	includeDefaults := cfg.IncludeDefaults && !flags.noDefaults
	engine := rules.NewEngineWithThresholds(nil, includeDefaults, rules.ThresholdsFromConfig(cfg))

	compiler, err := rules.NewCompiler()
	if err != nil {
		return nil, nil, err
	}

	path := flags.rulesFile
	if path == "" {
		path = cfg.RulesFile
	}
	if path == "" {
		return engine, compiler, nil
	}

	configs, err := rules.LoadRuleFile(path)
	if err != nil {
		return nil, nil, err
	}
	compiled, err := compiler.CompileAll(configs)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range compiled {
		engine.AddRule(r)
	}
	slog.Debug("rules file loaded", "path", path, "count", len(compiled))

	return engine, compiler, nil
}

// loadPersistedRules adds the saved expression rules to the engine.
func loadPersistedRules(ctx context.Context, repo domain.Repository, engine *rules.Engine, compiler *rules.Compiler) error {
	configs, err := repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		return fmt.Errorf("list rule configs: %w", err)
	}
	if len(configs) == 0 {
		slog.Info("no saved rules - configure via POST /api/v1/rules")
		return nil
	}

	compiled, err := compiler.CompileAll(configs)
	if err != nil {
		return err
	}
	for _, r := range compiled {
		engine.AddRule(r)
	}
	slog.Info("saved rules loaded", "count", len(compiled))
	return nil
}

// readRecord decodes one extracted record from a JSON file.
func readRecord(path string) (domain.Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var data domain.Record
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if data == nil {
		return nil, fmt.Errorf("decode %s: record must be a JSON object", path)
	}
	return data, nil
}
