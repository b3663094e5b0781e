// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// connectTimeout bounds the initial ping of a new pool.
const connectTimeout = 10 * time.Second

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// configurePool applies the optional pool limits of cfg.
func configurePool(db *sql.DB, cfg domain.RepositoryConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// ping verifies a freshly opened pool within connectTimeout.
func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return db.PingContext(ctx)
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRuleConfig stores a rule configuration, replacing any rule with the same ID.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule.Name == "" || rule.Expression == "" {
		return fmt.Errorf("%w: rule name and expression are required", ErrInvalidInput)
	}

	id := rule.ID
	if id == "" {
		id = rule.Name
	}

	shapes, err := json.Marshal(rule.Shapes)
	if err != nil {
		return fmt.Errorf("failed to encode shapes: %w", err)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, shapes, severity,
			message, field_reference, confidence_impact, fraud_weight, enabled,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			shapes = excluded.shapes,
			severity = excluded.severity,
			message = excluded.message,
			field_reference = excluded.field_reference,
			confidence_impact = excluded.confidence_impact,
			fraud_weight = excluded.fraud_weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		id, tenantID, rule.Name, rule.Description, rule.Version, rule.Expression,
		string(shapes), string(rule.Severity), rule.Message, rule.FieldReference,
		rule.ConfidenceImpact, rule.FraudWeight, enabled,
		now, now,
	)
	return err
}

const ruleColumns = `id, tenant_id, name, description, version, expression, shapes, severity,
			   message, field_reference, confidence_impact, fraud_weight, enabled`

// GetRuleConfig retrieves an enabled rule configuration by ID.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`

	cfg, err := scanRuleConfig(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListRuleConfigs retrieves all enabled rule configurations for a tenant, ordered by name.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		cfg, err := scanRuleConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

// DeleteRuleConfig disables every rule configuration with the given name.
func (r *SQLRepository) DeleteRuleConfig(ctx context.Context, tenantID string, name string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE rule_configs
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND name = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, name)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleConfig(row rowScanner) (*domain.RuleConfig, error) {
	var cfg domain.RuleConfig
	var description sql.NullString
	var shapes, severity string
	var enabled int

	if err := row.Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &description, &cfg.Version, &cfg.Expression,
		&shapes, &severity, &cfg.Message, &cfg.FieldReference,
		&cfg.ConfidenceImpact, &cfg.FraudWeight, &enabled,
	); err != nil {
		return nil, err
	}

	cfg.Description = description.String
	cfg.Severity = domain.Severity(severity)
	cfg.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(shapes), &cfg.Shapes); err != nil {
		return nil, fmt.Errorf("failed to decode shapes of rule %s: %w", cfg.Name, err)
	}
	return &cfg, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
