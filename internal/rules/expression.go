package rules

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ExpressionRule is a user rule backed by a compiled CEL expression.
// It emits one finding when the expression evaluates to true.
type ExpressionRule struct {
	base
	config  *domain.RuleConfig
	program cel.Program
}

// Compiler compiles rule configurations into expression rules.
type Compiler struct {
	env *cel.Env
}

// NewCompiler creates a compiler whose expressions see the variables
// data (the record), schema (its name) and shape.
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("schema", cel.StringType),
		cel.Variable("shape", cel.StringType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Compile validates and compiles one rule configuration.
func (c *Compiler) Compile(cfg *domain.RuleConfig) (*ExpressionRule, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}

	ast, issues := c.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile rule %s: %v", ErrInvalidRule, cfg.Name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: rule %s: expression must return bool, got %s", ErrInvalidRule, cfg.Name, ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.Name, err)
	}

	return &ExpressionRule{
		base: base{
			name:        cfg.Name,
			description: cfg.Description,
			shapes:      cfg.Shapes,
		},
		config:  cfg,
		program: program,
	}, nil
}

// CompileAll compiles the enabled configurations, stopping at the first error.
func (c *Compiler) CompileAll(configs []*domain.RuleConfig) ([]*ExpressionRule, error) {
	rules := make([]*ExpressionRule, 0, len(configs))
	for _, cfg := range configs {
		if cfg == nil || !cfg.Enabled {
			continue
		}
		r, err := c.Compile(cfg)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func checkConfig(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: rule config is required", ErrInvalidRule)
	}
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if strings.TrimSpace(cfg.Expression) == "" {
		return fmt.Errorf("%w: rule %s: expression is required", ErrInvalidRule, cfg.Name)
	}
	switch cfg.Severity {
	case "":
		cfg.Severity = domain.SeverityWarning
	case domain.SeverityError, domain.SeverityWarning, domain.SeverityInfo:
	default:
		return fmt.Errorf("%w: rule %s: unknown severity %q", ErrInvalidRule, cfg.Name, cfg.Severity)
	}
	if cfg.ConfidenceImpact < 0 || cfg.ConfidenceImpact > 1 {
		return fmt.Errorf("%w: rule %s: confidenceImpact must be within [0,1]", ErrInvalidRule, cfg.Name)
	}
	if cfg.FraudWeight < 0 || cfg.FraudWeight > 1 {
		return fmt.Errorf("%w: rule %s: fraudWeight must be within [0,1]", ErrInvalidRule, cfg.Name)
	}
	for _, s := range cfg.Shapes {
		if _, err := domain.ParseShape(string(s)); err != nil || s == "" {
			return fmt.Errorf("%w: rule %s: unknown shape %q", ErrInvalidRule, cfg.Name, s)
		}
	}
	if cfg.Message == "" {
		cfg.Message = fmt.Sprintf("Rule '%s' matched", cfg.Name)
	}
	return nil
}

// Config returns the rule configuration.
func (r *ExpressionRule) Config() *domain.RuleConfig {
	return r.config
}

func (r *ExpressionRule) Evaluate(data domain.Record, schema domain.Schema) ([]domain.Finding, error) {
	out, _, err := r.program.Eval(map[string]any{
		"data":   map[string]any(data),
		"schema": schema.Name,
		"shape":  string(schema.Shape),
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation error: %w", err)
	}

	matched, ok := out.(types.Bool)
	if !ok {
		return nil, fmt.Errorf("expression returned %s, want bool", out.Type())
	}
	if !matched {
		return nil, nil
	}

	f := domain.Finding{
		RuleName:         r.name,
		Severity:         r.config.Severity,
		Message:          r.config.Message,
		FieldReference:   r.config.FieldReference,
		ConfidenceImpact: r.config.ConfidenceImpact,
	}
	if r.config.FraudWeight > 0 {
		f = fraud(f, r.config.FraudWeight)
	}
	return []domain.Finding{f}, nil
}

// ReloadExpressionRules replaces every expression rule in the engine with rules.
// Other rules keep their positions; the new expression rules run last.
func (e *Engine) ReloadExpressionRules(rules []*ExpressionRule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.rules[:0:0]
	for _, r := range e.rules {
		if _, ok := r.(*ExpressionRule); !ok {
			kept = append(kept, r)
		}
	}
	for _, r := range rules {
		kept = append(kept, r)
	}
	e.rules = kept
	e.revision++
}
