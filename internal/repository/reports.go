package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultListLimit caps ListReports when no limit is given.
const DefaultListLimit = 50

// SaveReport stores a validation report with tenant isolation.
func (r *SQLRepository) SaveReport(ctx context.Context, tenantID string, report *domain.Report) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if report.ID == "" {
		return fmt.Errorf("%w: report id is required", ErrInvalidInput)
	}

	verdict, err := json.Marshal(report.Verdict)
	if err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}
	metadata, err := json.Marshal(report.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	isValid := 0
	if report.Verdict.IsValid {
		isValid = 1
	}

	createdAt := report.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO reports (
			id, tenant_id, document_id, schema_name, shape, is_valid,
			confidence, fraud_risk, verdict, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		report.ID, tenantID, report.DocumentID,
		report.Schema.Name, string(report.Schema.Shape), isValid,
		report.Verdict.Confidence, string(report.Verdict.FraudRisk),
		string(verdict), string(metadata), createdAt,
	)
	return err
}

const reportColumns = `id, tenant_id, document_id, schema_name, shape, verdict, metadata, created_at`

// GetReport retrieves a report by ID with tenant isolation.
func (r *SQLRepository) GetReport(ctx context.Context, tenantID string, reportID string) (*domain.Report, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + reportColumns + `
		FROM reports
		WHERE tenant_id = ? AND id = ?
	`

	report, err := scanReport(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, reportID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

// ListReports returns the most recent reports of a tenant, newest first.
func (r *SQLRepository) ListReports(ctx context.Context, tenantID string, limit int) ([]*domain.Report, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT ` + reportColumns + `
		FROM reports
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*domain.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}

	return reports, rows.Err()
}

func scanReport(row rowScanner) (*domain.Report, error) {
	var report domain.Report
	var shape, verdict, metadata string

	if err := row.Scan(
		&report.ID, &report.TenantID, &report.DocumentID,
		&report.Schema.Name, &shape, &verdict, &metadata, &report.CreatedAt,
	); err != nil {
		return nil, err
	}

	report.Schema.Shape = domain.Shape(shape)
	if err := json.Unmarshal([]byte(verdict), &report.Verdict); err != nil {
		return nil, fmt.Errorf("failed to decode verdict of report %s: %w", report.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &report.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of report %s: %w", report.ID, err)
	}
	return &report, nil
}
