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

const documentColumns = `id, tenant_id, schema_name, shape, entity_name, entity_id,
			   document_number, total_amount, currency, bank_account, bank_routing,
			   data, created_at`

// SaveDocument stores a document with tenant isolation. Saving the same ID twice
// replaces the stored copy.
func (r *SQLRepository) SaveDocument(ctx context.Context, tenantID string, doc *domain.Document) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if doc.ID == "" {
		return fmt.Errorf("%w: document id is required", ErrInvalidInput)
	}

	data, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("failed to encode document data: %w", err)
	}

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO documents (
			id, tenant_id, schema_name, shape, entity_name, entity_id,
			document_number, total_amount, currency, bank_account, bank_routing,
			data, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			schema_name = excluded.schema_name,
			shape = excluded.shape,
			entity_name = excluded.entity_name,
			entity_id = excluded.entity_id,
			document_number = excluded.document_number,
			total_amount = excluded.total_amount,
			currency = excluded.currency,
			bank_account = excluded.bank_account,
			bank_routing = excluded.bank_routing,
			data = excluded.data
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		doc.ID, tenantID, doc.Schema, string(doc.Shape),
		doc.EntityName, doc.EntityID, doc.DocumentNumber,
		doc.TotalAmount, doc.Currency, doc.BankAccount, doc.BankRouting,
		string(data), createdAt,
	)
	return err
}

// GetDocument retrieves a document by ID with tenant isolation.
func (r *SQLRepository) GetDocument(ctx context.Context, tenantID string, docID string) (*domain.Document, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE tenant_id = ? AND id = ?
	`

	doc, err := scanDocument(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, docID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocumentsByEntity retrieves the documents of an entity created at or after since, oldest first.
func (r *SQLRepository) GetDocumentsByEntity(ctx context.Context, tenantID string, entityName string, since time.Time) ([]*domain.Document, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE tenant_id = ? AND entity_name = ? AND created_at >= ?
		ORDER BY created_at ASC
	`

	return r.queryDocuments(ctx, query, tenantID, entityName, since)
}

// FindDuplicateDocuments finds other documents carrying the same number from the same entity.
func (r *SQLRepository) FindDuplicateDocuments(ctx context.Context, tenantID string, documentNumber, entityName, excludeID string) ([]*domain.Document, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if documentNumber == "" {
		return nil, nil
	}

	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE tenant_id = ? AND document_number = ? AND entity_name = ? AND id <> ?
		ORDER BY created_at ASC
	`

	return r.queryDocuments(ctx, query, tenantID, documentNumber, entityName, excludeID)
}

// GetBankDetailHistory lists the distinct bank account/routing pairs of an entity
// in the order they were first used.
func (r *SQLRepository) GetBankDetailHistory(ctx context.Context, tenantID string, entityName string) ([]domain.BankDetail, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT bank_account, bank_routing, created_at
		FROM documents
		WHERE tenant_id = ? AND entity_name = ? AND bank_account <> ''
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, entityName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type pair struct{ account, routing string }
	index := make(map[pair]int)
	var details []domain.BankDetail
	for rows.Next() {
		var p pair
		var seen time.Time
		if err := rows.Scan(&p.account, &p.routing, &seen); err != nil {
			return nil, err
		}
		i, ok := index[p]
		if !ok {
			index[p] = len(details)
			details = append(details, domain.BankDetail{
				BankAccount: p.account,
				BankRouting: p.routing,
				FirstSeen:   seen,
				LastSeen:    seen,
				Documents:   1,
			})
			continue
		}
		details[i].LastSeen = seen
		details[i].Documents++
	}

	return details, rows.Err()
}

// FindEntityIDConflicts lists the other entity names that have used entityID.
func (r *SQLRepository) FindEntityIDConflicts(ctx context.Context, tenantID string, entityID, entityName string) ([]domain.EntityIDUsage, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if entityID == "" {
		return nil, nil
	}

	query := `
		SELECT entity_name, COUNT(*)
		FROM documents
		WHERE tenant_id = ? AND entity_id = ? AND entity_name <> ?
		GROUP BY entity_name
		ORDER BY entity_name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, entityID, entityName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usages []domain.EntityIDUsage
	for rows.Next() {
		u := domain.EntityIDUsage{EntityID: entityID}
		if err := rows.Scan(&u.EntityName, &u.Documents); err != nil {
			return nil, err
		}
		usages = append(usages, u)
	}

	return usages, rows.Err()
}

func (r *SQLRepository) queryDocuments(ctx context.Context, query string, args ...any) ([]*domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var shape, data string

	if err := row.Scan(
		&doc.ID, &doc.TenantID, &doc.Schema, &shape,
		&doc.EntityName, &doc.EntityID, &doc.DocumentNumber,
		&doc.TotalAmount, &doc.Currency, &doc.BankAccount, &doc.BankRouting,
		&data, &doc.CreatedAt,
	); err != nil {
		return nil, err
	}

	doc.Shape = domain.Shape(shape)
	if data != "" {
		if err := json.Unmarshal([]byte(data), &doc.Data); err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", doc.ID, err)
		}
	}
	return &doc, nil
}
