// Package worker validates documents published on the event bus.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/validation"
	"github.com/opensource-finance/kestrel/internal/verdict"
)

// GlobalTenant is the subscription tenant used when no tenants are configured.
const GlobalTenant = "_global"

// Worker consumes extracted documents from the EventBus and publishes their verdicts.
type Worker struct {
	bus       domain.EventBus
	svc       *validation.Service
	metrics   *metrics.Metrics
	alertRisk domain.FraudRisk

	mu            sync.Mutex
	subscriptions []domain.Subscription
	jobs          chan job
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	running       atomic.Bool

	processed atomic.Int64
	alerts    atomic.Int64
	failed    atomic.Int64
	malformed atomic.Int64
}

type job struct {
	ctx      context.Context
	tenantID string
	msg      *domain.Message
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to consume; empty subscribes to GlobalTenant
	TenantIDs []string

	// WorkerCount is the number of concurrent validations
	WorkerCount int

	// AlertRisk is the lowest fraud risk that raises an alert; defaults to high
	AlertRisk domain.FraudRisk
}

// NewWorker creates a worker publishing on b and validating with svc.
func NewWorker(b domain.EventBus, svc *validation.Service, m *metrics.Metrics) *Worker {
	return &Worker{
		bus:       b,
		svc:       svc,
		metrics:   m,
		alertRisk: domain.FraudRiskHigh,
	}
}

// Start subscribes to the extracted document topic and launches the workers.
func (w *Worker) Start(cfg Config) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("worker already running")
	}

	if cfg.AlertRisk != "" {
		w.alertRisk = cfg.AlertRisk
	}
	count := cfg.WorkerCount
	if count <= 0 {
		count = 1
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.jobs = make(chan job, count*4)

	for i := 0; i < count; i++ {
		w.wg.Add(1)
		go w.loop()
	}

	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{GlobalTenant}
	}

	for _, tenantID := range tenants {
		if err := w.subscribe(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(tenants),
		"worker_count", count,
		"alert_risk", w.alertRisk,
	)
	return nil
}

func (w *Worker) subscribe(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicDocumentExtracted, func(ctx context.Context, msg *domain.Message) error {
		select {
		case w.jobs <- job{ctx: ctx, tenantID: tenantID, msg: msg}:
			return nil
		case <-w.ctx.Done():
			return w.ctx.Err()
		}
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("tenant worker started",
		"tenant", tenantID,
		"topic", domain.TopicDocumentExtracted,
	)
	return nil
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case j := <-w.jobs:
			if err := w.processDocument(j.ctx, j.tenantID, j.msg); err != nil {
				slog.Error("document processing failed",
					"tenant", j.tenantID,
					"message_id", j.msg.ID,
					"error", err,
				)
			}
		}
	}
}

// processDocument validates one document message and publishes the outcome.
func (w *Worker) processDocument(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var in domain.DocumentMessage
	if err := bus.Decode(msg, &in); err != nil {
		w.malformed.Add(1)
		w.metrics.IncrementWorker("malformed")
		return err
	}

	// The payload tenant wins over the subscription tenant.
	if in.TenantID != "" {
		tenantID = in.TenantID
	}
	if tenantID == GlobalTenant {
		tenantID = msg.TenantID
	}

	schema, err := domain.ResolveSchema(in.Schema, in.Shape)
	if err != nil || in.Data == nil {
		w.malformed.Add(1)
		w.metrics.IncrementWorker("malformed")
		if err == nil {
			err = errors.New("document has no data")
		}
		return fmt.Errorf("malformed document %s: %w", in.DocumentID, err)
	}

	traceID := in.TraceID
	if traceID == "" {
		traceID = msg.Metadata[bus.MetaTraceID]
	}
	if traceID == "" {
		traceID = msg.ID
	}

	report, err := w.svc.Validate(ctx, &validation.Input{
		TenantID:   tenantID,
		DocumentID: in.DocumentID,
		TraceID:    traceID,
		Schema:     schema,
		Data:       in.Data,
	})
	if err != nil {
		w.failed.Add(1)
		w.metrics.IncrementWorker("error")
		return fmt.Errorf("validation of %s failed: %w", in.DocumentID, err)
	}

	out := domain.VerdictMessage{
		ReportID:   report.ID,
		DocumentID: report.DocumentID,
		TenantID:   tenantID,
		TraceID:    traceID,
		Status:     report.Status(),
		FraudRisk:  report.Verdict.FraudRisk,
		Confidence: report.Verdict.Confidence,
		Reasons:    verdict.Reasons(report.Verdict),
	}

	if err := bus.PublishJSON(ctx, w.bus, tenantID, domain.TopicVerdict, out); err != nil {
		slog.Error("failed to publish verdict",
			"documentId", report.DocumentID,
			"error", err,
		)
	}

	alert := verdict.ShouldAlert(report.Verdict, w.alertRisk)
	if alert {
		w.alerts.Add(1)
		w.metrics.IncrementWorker("alert")
		if err := bus.PublishJSON(ctx, w.bus, tenantID, domain.TopicAlert, out); err != nil {
			slog.Error("failed to publish alert",
				"documentId", report.DocumentID,
				"error", err,
			)
		}
	}

	w.processed.Add(1)
	w.metrics.IncrementWorker("processed")

	slog.Info("document processed",
		"documentId", report.DocumentID,
		"tenant", tenantID,
		"status", out.Status,
		"fraudRisk", out.FraudRisk,
		"alert", alert,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes and waits for in-flight validations to finish.
func (w *Worker) Stop() error {
	if !w.running.CompareAndSwap(true, false) {
		return nil
	}

	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	Running           bool     `json:"running"`
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Alerts            int64    `json:"alerts"`
	Errors            int64    `json:"errors"`
	Malformed         int64    `json:"malformed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	w.mu.Unlock()

	return Stats{
		Running:           w.running.Load(),
		SubscriptionCount: len(topics),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Alerts:            w.alerts.Load(),
		Errors:            w.failed.Load(),
		Malformed:         w.malformed.Load(),
	}
}
