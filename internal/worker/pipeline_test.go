package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/validation"
)

// TestPipeline drives a record through the whole service:
//
//	POST /api/v1/documents -> bus -> worker -> validation -> repository -> verdict topic
func TestPipeline(t *testing.T) {
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "pipeline.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	m := metrics.New(prometheus.NewRegistry())
	svc := validation.NewService(rules.NewEngine(nil, true), validation.Options{
		Repository: repo,
		Cache:      cache.NewLRUCache(100),
		Metrics:    m,
	})

	w := NewWorker(eventBus, svc, m)
	require.NoError(t, w.Start(Config{TenantIDs: []string{tenantID}, WorkerCount: 2}))
	t.Cleanup(func() { w.Stop() })

	verdicts := collect(t, eventBus, domain.TopicVerdict)
	alerts := collect(t, eventBus, domain.TopicAlert)

	server := api.NewServer(domain.ServerConfig{}, api.Deps{
		Validator:  svc,
		Repository: repo,
		Bus:        eventBus,
		Metrics:    m,
	})

	submit := func(docID string, data domain.Record) {
		body, err := json.Marshal(api.ValidateRequest{DocumentID: docID, Schema: "invoice", Data: data})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", bytes.NewReader(body))
		req.Header.Set(api.TenantIDHeader, tenantID)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	}

	t.Run("CleanInvoice", func(t *testing.T) {
		submit("doc-clean", cleanInvoice())

		v := receive(t, verdicts)
		assert.Equal(t, "doc-clean", v.DocumentID)
		assert.Equal(t, domain.StatusPass, v.Status)

		report, err := repo.GetReport(context.Background(), tenantID, v.ReportID)
		require.NoError(t, err)
		assert.Equal(t, "doc-clean", report.DocumentID)

		doc, err := repo.GetDocument(context.Background(), tenantID, "doc-clean")
		require.NoError(t, err)
		assert.Equal(t, "Acme Corp", doc.EntityName)
	})

	t.Run("IncompleteInvoiceAlerts", func(t *testing.T) {
		submit("doc-incomplete", domain.Record{"invoice_number": "INV-9", "vendor_name": "Acme Corp"})

		v := receive(t, verdicts)
		assert.Equal(t, domain.StatusFail, v.Status)
		assert.NotEmpty(t, v.Reasons)

		alert := receive(t, alerts)
		assert.Equal(t, "doc-incomplete", alert.DocumentID)
	})
}

func cleanInvoice() domain.Record {
	return domain.Record{
		"invoice_number": "INV-2024-001",
		"date":           "2024-01-15",
		"due_date":       "2024-02-15",
		"vendor_name":    "Acme Corp",
		"currency":       "USD",
		"subtotal":       300.0,
		"tax_amount":     30.0,
		"total_amount":   330.0,
		"line_items": []any{
			map[string]any{"name": "Widget", "quantity": 2.0, "unit_price_without_taxes": 50.0, "amount": 100.0},
			map[string]any{"name": "Gadget", "quantity": 1.0, "unit_price_without_taxes": 200.0, "amount": 200.0},
		},
	}
}
