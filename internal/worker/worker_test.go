package worker

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/validation"
)

const tenantID = "tenant-001"

func collect(t *testing.T, b domain.EventBus, topic string) <-chan domain.VerdictMessage {
	t.Helper()
	ch := make(chan domain.VerdictMessage, 10)
	_, err := b.Subscribe(context.Background(), tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
		var v domain.VerdictMessage
		if err := bus.Decode(msg, &v); err != nil {
			return err
		}
		ch <- v
		return nil
	})
	require.NoError(t, err)
	return ch
}

func receive(t *testing.T, ch <-chan domain.VerdictMessage) domain.VerdictMessage {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for verdict")
		return domain.VerdictMessage{}
	}
}

func newWorker(t *testing.T) (*Worker, *bus.ChannelBus, *metrics.Metrics) {
	t.Helper()
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	m := metrics.New(prometheus.NewRegistry())
	svc := validation.NewService(rules.NewEngine(nil, true), validation.Options{Metrics: m})
	return NewWorker(eventBus, svc, m), eventBus, m
}

func TestWorker(t *testing.T) {
	t.Run("StartAndStop", func(t *testing.T) {
		w, _, _ := newWorker(t)
		require.NoError(t, w.Start(Config{TenantIDs: []string{tenantID}, WorkerCount: 2}))
		assert.Error(t, w.Start(Config{}), "second start must fail")

		stats := w.GetStats()
		assert.True(t, stats.Running)
		assert.Equal(t, 1, stats.SubscriptionCount)
		assert.Equal(t, []string{domain.TopicDocumentExtracted}, stats.Topics)

		require.NoError(t, w.Stop())
		require.NoError(t, w.Stop())

		stats = w.GetStats()
		assert.False(t, stats.Running)
		assert.Equal(t, 0, stats.SubscriptionCount)
	})

	t.Run("CleanDocumentPublishesVerdictOnly", func(t *testing.T) {
		w, eventBus, _ := newWorker(t)
		verdicts := collect(t, eventBus, domain.TopicVerdict)
		alerts := collect(t, eventBus, domain.TopicAlert)

		require.NoError(t, w.Start(Config{TenantIDs: []string{tenantID}}))
		defer w.Stop()

		require.NoError(t, bus.PublishJSON(context.Background(), eventBus, tenantID, domain.TopicDocumentExtracted, domain.DocumentMessage{
			DocumentID: "doc-1",
			Schema:     "invoice",
			Data: domain.Record{
				"invoice_number": "INV-1",
				"date":           "2024-01-15",
				"vendor_name":    "Acme",
				"currency":       "USD",
				"total_amount":   100.0,
				"line_items":     []any{map[string]any{"name": "Widget", "amount": 100.0}},
			},
		}))

		v := receive(t, verdicts)
		assert.Equal(t, "doc-1", v.DocumentID)
		assert.Equal(t, tenantID, v.TenantID)
		assert.Equal(t, domain.StatusPass, v.Status)
		assert.Equal(t, domain.FraudRiskClean, v.FraudRisk)
		assert.NotEmpty(t, v.TraceID)

		select {
		case a := <-alerts:
			t.Fatalf("unexpected alert: %+v", a)
		case <-time.After(50 * time.Millisecond):
		}
		assert.Equal(t, int64(1), w.GetStats().Processed)
	})

	t.Run("InvalidDocumentRaisesAlert", func(t *testing.T) {
		w, eventBus, m := newWorker(t)
		verdicts := collect(t, eventBus, domain.TopicVerdict)
		alerts := collect(t, eventBus, domain.TopicAlert)

		require.NoError(t, w.Start(Config{TenantIDs: []string{tenantID}}))
		defer w.Stop()

		require.NoError(t, bus.PublishJSON(context.Background(), eventBus, tenantID, domain.TopicDocumentExtracted, domain.DocumentMessage{
			DocumentID: "doc-bad",
			TraceID:    "trace-bad",
			Schema:     "ReceiptData",
			Data: domain.Record{
				"merchant_name": "Shop",
				"total":         -20.0,
			},
		}))

		v := receive(t, verdicts)
		assert.Equal(t, domain.StatusFail, v.Status)
		assert.Equal(t, "trace-bad", v.TraceID)
		assert.NotEmpty(t, v.Reasons)

		a := receive(t, alerts)
		assert.Equal(t, "doc-bad", a.DocumentID)
		assert.Equal(t, int64(1), w.GetStats().Alerts)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkerMessages.WithLabelValues("alert")))
	})

	t.Run("MalformedMessagesAreDropped", func(t *testing.T) {
		w, eventBus, _ := newWorker(t)
		require.NoError(t, w.Start(Config{TenantIDs: []string{tenantID}}))
		defer w.Stop()

		ctx := context.Background()
		require.NoError(t, eventBus.Publish(ctx, tenantID, domain.TopicDocumentExtracted, []byte("{not json")))
		require.NoError(t, bus.PublishJSON(ctx, eventBus, tenantID, domain.TopicDocumentExtracted, domain.DocumentMessage{
			DocumentID: "doc-unknown",
			Schema:     "PurchaseOrder",
			Data:       domain.Record{"x": 1.0},
		}))

		require.Eventually(t, func() bool {
			return w.GetStats().Malformed == 2
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, int64(0), w.GetStats().Processed)
	})

	t.Run("GlobalSubscription", func(t *testing.T) {
		w, eventBus, _ := newWorker(t)
		require.NoError(t, w.Start(Config{}))
		defer w.Stop()

		assert.Equal(t, 1, eventBus.Subscribers(GlobalTenant, domain.TopicDocumentExtracted))
	})
}
