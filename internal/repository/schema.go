package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaDocuments = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    schema_name TEXT NOT NULL,
    shape TEXT NOT NULL,
    entity_name TEXT NOT NULL DEFAULT '',
    entity_id TEXT NOT NULL DEFAULT '',
    document_number TEXT NOT NULL DEFAULT '',
    total_amount REAL NOT NULL DEFAULT 0,
    currency TEXT NOT NULL DEFAULT '',
    bank_account TEXT NOT NULL DEFAULT '',
    bank_routing TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_entity ON documents(tenant_id, entity_name);
CREATE INDEX IF NOT EXISTS idx_documents_number ON documents(tenant_id, document_number);
CREATE INDEX IF NOT EXISTS idx_documents_entity_id ON documents(tenant_id, entity_id);
`

const schemaReports = `
CREATE TABLE IF NOT EXISTS reports (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    document_id TEXT NOT NULL,
    schema_name TEXT NOT NULL,
    shape TEXT NOT NULL,
    is_valid INTEGER NOT NULL,
    confidence REAL NOT NULL,
    fraud_risk TEXT NOT NULL,
    verdict TEXT NOT NULL,
    metadata TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_reports_document ON reports(tenant_id, document_id);
CREATE INDEX IF NOT EXISTS idx_reports_risk ON reports(tenant_id, fraud_risk);
CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(tenant_id, created_at);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    shapes TEXT NOT NULL,
    severity TEXT NOT NULL,
    message TEXT NOT NULL,
    field_reference TEXT NOT NULL DEFAULT '',
    confidence_impact REAL NOT NULL DEFAULT 0,
    fraud_weight REAL NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_name ON rule_configs(tenant_id, name);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaDocuments,
		schemaReports,
		schemaRuleConfigs,
	}
}
