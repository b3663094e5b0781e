// Package validation runs records through the rule engine and keeps the
// resulting reports: memoized in the cache, stored in the repository.
package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Version is the engine version stamped on every report.
const Version = "1.0.0"

// DefaultCacheTTL is used when Options.CacheTTL is zero.
const DefaultCacheTTL = 10 * time.Minute

var ErrInvalidInput = errors.New("invalid validation input")

var tracer = otel.Tracer("kestrel-validation")

// Input is one record to validate.
type Input struct {
	TenantID   string
	DocumentID string // generated when empty
	TraceID    string
	Schema     domain.Schema
	Data       domain.Record
}

// Options configures the collaborators of a Service. Every field is optional.
type Options struct {
	Repository domain.Repository
	Cache      domain.Cache
	Metrics    *metrics.Metrics
	CacheTTL   time.Duration
}

// Service validates records and keeps their reports.
type Service struct {
	engine   *rules.Engine
	repo     domain.Repository
	cache    domain.Cache
	metrics  *metrics.Metrics
	cacheTTL time.Duration
}

// NewService creates a validation service around engine.
// Rule failures raised by the engine are counted in opts.Metrics.
func NewService(engine *rules.Engine, opts Options) *Service {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	if opts.Metrics != nil {
		m := opts.Metrics
		engine.OnRuleFailure(func(rule string, _ error) {
			m.IncrementRuleFailure(rule)
		})
	}

	return &Service{
		engine:   engine,
		repo:     opts.Repository,
		cache:    opts.Cache,
		metrics:  opts.Metrics,
		cacheTTL: ttl,
	}
}

// Engine returns the rule engine of the service.
func (s *Service) Engine() *rules.Engine {
	return s.engine
}

// Validate produces the report of one record. When an identical record was
// validated under the same engine revision, its verdict is reused: the caller
// still gets a new report for its own document, with Metadata.Cached set.
// Storage and cache failures are logged and do not fail the call.
func (s *Service) Validate(ctx context.Context, in *Input) (*domain.Report, error) {
	start := time.Now()

	if in == nil || in.TenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if in.Schema.Name == "" {
		return nil, fmt.Errorf("%w: schema is required", ErrInvalidInput)
	}
	if in.Data == nil {
		return nil, fmt.Errorf("%w: data is required", ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "validation.Validate",
		trace.WithAttributes(
			attribute.String("tenant.id", in.TenantID),
			attribute.String("schema.name", in.Schema.Name),
			attribute.String("schema.shape", string(in.Schema.Shape)),
		),
	)
	defer span.End()

	traceID := in.TraceID
	if traceID == "" && span.SpanContext().HasTraceID() {
		traceID = span.SpanContext().TraceID().String()
	}

	revision := s.engine.Revision()
	fingerprint, err := Fingerprint(in.Schema, revision, in.Data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fingerprint failed")
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	docID := in.DocumentID
	if docID == "" {
		docID = uuid.New().String()
	}

	if cached := s.lookup(ctx, in.TenantID, fingerprint); cached != nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))

		// The verdict is reused; the report belongs to this document.
		report := *cached
		report.ID = uuid.New().String()
		report.TenantID = in.TenantID
		report.DocumentID = docID
		report.CreatedAt = time.Now().UTC()
		report.Metadata.Cached = true
		report.Metadata.TraceID = traceID
		if err := s.store(ctx, in, &report); err != nil {
			return nil, err
		}
		report.Metadata.TotalMs = time.Since(start).Milliseconds()
		return &report, nil
	}

	validateStart := time.Now()
	verdict := s.engine.Validate(in.Data, in.Schema)
	validateDur := time.Since(validateStart)

	report := &domain.Report{
		ID:         uuid.New().String(),
		TenantID:   in.TenantID,
		DocumentID: docID,
		Schema:     in.Schema,
		Verdict:    verdict,
		CreatedAt:  time.Now().UTC(),
		Metadata: domain.ReportMetadata{
			TraceID:        traceID,
			Fingerprint:    fingerprint,
			ValidateMs:     validateDur.Milliseconds(),
			RulesEvaluated: len(verdict.RulesChecked),
			EngineVersion:  Version + "+r" + strconv.FormatUint(revision, 10),
		},
	}

	s.metrics.ObserveValidation(string(verdict.FraudRisk), verdict.IsValid, validateDur)
	span.SetAttributes(
		attribute.Bool("verdict.valid", verdict.IsValid),
		attribute.String("verdict.fraud_risk", string(verdict.FraudRisk)),
		attribute.Float64("verdict.confidence", verdict.Confidence),
	)

	if err := s.store(ctx, in, report); err != nil {
		return nil, err
	}
	if err := s.memoize(ctx, in.TenantID, report); err != nil {
		return nil, err
	}

	report.Metadata.TotalMs = time.Since(start).Milliseconds()

	slog.Debug("document validated",
		"tenant", in.TenantID,
		"documentId", docID,
		"reportId", report.ID,
		"valid", verdict.IsValid,
		"fraudRisk", verdict.FraudRisk,
		"confidence", verdict.Confidence,
	)

	return report, nil
}

func (s *Service) lookup(ctx context.Context, tenantID, fingerprint string) *domain.Report {
	if s.cache == nil {
		return nil
	}
	report, err := s.cache.GetReport(ctx, tenantID, fingerprint)
	if err != nil {
		slog.Warn("report cache lookup failed", "tenant", tenantID, "error", err)
		return nil
	}
	s.metrics.ObserveCache(report != nil)
	return report
}

// store saves the document and its report. Failures are logged; only a done
// context is returned.
func (s *Service) store(ctx context.Context, in *Input, report *domain.Report) error {
	if s.repo == nil {
		return nil
	}

	doc := domain.NewDocument(report.DocumentID, in.TenantID, in.Schema, in.Data)
	if err := s.repo.SaveDocument(ctx, in.TenantID, doc); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("failed to save document", "tenant", in.TenantID, "documentId", doc.ID, "error", err)
	}
	if err := s.repo.SaveReport(ctx, in.TenantID, report); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("failed to save report", "tenant", in.TenantID, "reportId", report.ID, "error", err)
	}
	return nil
}

// memoize caches report under its fingerprint.
func (s *Service) memoize(ctx context.Context, tenantID string, report *domain.Report) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.SetReport(ctx, tenantID, report.Metadata.Fingerprint, report, s.cacheTTL); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("failed to cache report", "tenant", tenantID, "reportId", report.ID, "error", err)
	}
	return nil
}

// Fingerprint identifies a record under a schema and engine revision.
// Map keys are encoded in sorted order, so equal records share a fingerprint.
func Fingerprint(schema domain.Schema, revision uint64, data domain.Record) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(schema.Name))
	h.Write([]byte{0})
	h.Write([]byte(schema.Shape))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatUint(revision, 10)))
	h.Write([]byte{0})
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil)), nil
}
