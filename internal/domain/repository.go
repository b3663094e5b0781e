// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Document operations
	SaveDocument(ctx context.Context, tenantID string, doc *Document) error
	GetDocument(ctx context.Context, tenantID string, docID string) (*Document, error)

	// Report operations
	SaveReport(ctx context.Context, tenantID string, report *Report) error
	GetReport(ctx context.Context, tenantID string, reportID string) (*Report, error)
	ListReports(ctx context.Context, tenantID string, limit int) ([]*Report, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)
	DeleteRuleConfig(ctx context.Context, tenantID string, name string) error

	HistoryStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// HistoryStore answers cross-document questions about entities.
type HistoryStore interface {
	// GetDocumentsByEntity returns documents of an entity, oldest first.
	GetDocumentsByEntity(ctx context.Context, tenantID string, entityName string, since time.Time) ([]*Document, error)

	// FindDuplicateDocuments returns other documents with the same number from the same entity.
	FindDuplicateDocuments(ctx context.Context, tenantID string, documentNumber, entityName, excludeID string) ([]*Document, error)

	// GetBankDetailHistory returns the distinct bank details used by an entity, oldest first.
	GetBankDetailHistory(ctx context.Context, tenantID string, entityName string) ([]BankDetail, error)

	// FindEntityIDConflicts returns the entity names that used an entity id, other than entityName.
	FindEntityIDConflicts(ctx context.Context, tenantID string, entityID, entityName string) ([]EntityIDUsage, error)
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" or "none"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"-" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDB" yaml:"postgresDB"`
	PostgresSSLMode  string `json:"postgresSSLMode" yaml:"postgresSSLMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
