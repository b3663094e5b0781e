package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/validation"
)

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

const (
	defaultListLimit = repository.DefaultListLimit
	maxListLimit     = 500
)

// Handler holds dependencies for API handlers.
type Handler struct {
	validator *validation.Service
	engine    *rules.Engine
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	history   *history.Service
	compiler  *rules.Compiler
}

// NewHandler creates a new API handler. A history service is derived from the
// repository when none is given.
func NewHandler(deps Deps) *Handler {
	h := &Handler{
		validator: deps.Validator,
		engine:    deps.Validator.Engine(),
		repo:      deps.Repository,
		cache:     deps.Cache,
		bus:       deps.Bus,
		history:   deps.History,
		compiler:  deps.Compiler,
	}

	if h.history == nil && h.repo != nil {
		h.history = history.NewService(h.repo)
	}
	if h.compiler == nil {
		c, err := rules.NewCompiler()
		if err != nil {
			slog.Error("failed to create rule compiler", "error", err)
		} else {
			h.compiler = c
		}
	}

	return h
}

// ValidateRequest is the request body for POST /api/v1/validate and
// POST /api/v1/documents.
type ValidateRequest struct {
	DocumentID string        `json:"documentId,omitempty"`
	Schema     string        `json:"schema"`
	Shape      string        `json:"shape,omitempty"`
	Data       domain.Record `json:"data"`
}

func (req *ValidateRequest) resolve() (domain.Schema, error) {
	if req.Data == nil {
		return domain.Schema{}, errors.New("data is required")
	}
	schema, err := domain.ResolveSchema(req.Schema, req.Shape)
	if err != nil {
		return domain.Schema{}, err
	}
	return schema, nil
}

// Validate handles POST /api/v1/validate requests.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	schema, err := req.resolve()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	report, err := h.validator.Validate(ctx, &validation.Input{
		TenantID:   GetTenantID(ctx),
		DocumentID: req.DocumentID,
		TraceID:    GetTraceID(ctx),
		Schema:     schema,
		Data:       req.Data,
	})
	if err != nil {
		if errors.Is(err, validation.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("validation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "validation failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, report.ToResponse())
}

// SubmitDocument handles POST /api/v1/documents. The record is published for
// the worker and the verdict arrives on the verdict topic.
func (h *Handler) SubmitDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if _, err := req.resolve(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	docID := req.DocumentID
	if docID == "" {
		docID = uuid.New().String()
	}

	msg := domain.DocumentMessage{
		DocumentID: docID,
		TenantID:   tenantID,
		TraceID:    GetTraceID(ctx),
		Schema:     req.Schema,
		Shape:      req.Shape,
		Data:       req.Data,
	}
	if err := bus.PublishJSON(ctx, h.bus, tenantID, domain.TopicDocumentExtracted, msg); err != nil {
		slog.Error("failed to publish document", "document_id", docID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue document",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"documentId": docID,
		"traceId":    msg.TraceID,
		"status":     "queued",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": validation.Version,
		"rules":   h.engine.RulesCount(),
	})
}

// Ready returns 503 until every configured backend answers a ping.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := true

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}

	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("bus", func() error { return h.bus.Ping(ctx) })
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

// GetReport retrieves a report by ID.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reportID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	report, err := h.repo.GetReport(ctx, GetTenantID(ctx), reportID)
	if err != nil {
		writeRepoError(w, "report", reportID, err)
		return
	}

	writeJSON(w, http.StatusOK, report.ToResponse())
}

// ListReports returns the newest reports of the tenant.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = min(n, maxListLimit)
	}

	reports, err := h.repo.ListReports(ctx, GetTenantID(ctx), limit)
	if err != nil {
		slog.Error("failed to list reports", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list reports",
		})
		return
	}

	resp := make([]*domain.ReportResponse, 0, len(reports))
	for _, report := range reports {
		resp = append(resp, report.ToResponse())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": resp,
		"count":   len(resp),
	})
}

// GetDocument retrieves a stored document by ID.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	doc, err := h.repo.GetDocument(ctx, GetTenantID(ctx), docID)
	if err != nil {
		writeRepoError(w, "document", docID, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// DocumentContextResponse is the historical context of a document together
// with the fraud signals read from it.
type DocumentContextResponse struct {
	*domain.FraudContext
	Signals []string `json:"signals"`
}

// GetDocumentContext handles GET /api/v1/documents/{id}/context.
func (h *Handler) GetDocumentContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	docID := chi.URLParam(r, "id")

	if h.repo == nil || h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	doc, err := h.repo.GetDocument(ctx, tenantID, docID)
	if err != nil {
		writeRepoError(w, "document", docID, err)
		return
	}

	fc, err := h.history.BuildContext(ctx, tenantID, doc)
	if err != nil {
		slog.Error("failed to build document context", "document_id", docID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build document context",
		})
		return
	}

	signals := h.history.Signals(doc, fc)
	if signals == nil {
		signals = []string{}
	}
	writeJSON(w, http.StatusOK, DocumentContextResponse{
		FraudContext: fc,
		Signals:      signals,
	})
}

// ListRules returns every rule registered in the engine, in run order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	infos := h.engine.RulesInfo()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":    infos,
		"count":    len(infos),
		"revision": h.engine.Revision(),
	})
}

// CreateRuleRequest is the request body for creating an expression rule.
type CreateRuleRequest struct {
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Expression       string          `json:"expression"`
	Shapes           []domain.Shape  `json:"shapes,omitempty"`
	Severity         domain.Severity `json:"severity"`
	Message          string          `json:"message"`
	FieldReference   string          `json:"fieldReference,omitempty"`
	ConfidenceImpact float64         `json:"confidenceImpact"`
	FraudWeight      float64         `json:"fraudWeight"`
}

// CreateRule compiles an expression rule, saves it and adds it to the engine.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.compiler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule compiler not available",
		})
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	req.Name = strings.TrimSpace(req.Name)

	for _, info := range h.engine.RulesInfo() {
		if info.Name == req.Name {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "rule " + req.Name + " already exists",
			})
			return
		}
	}

	cfg := &domain.RuleConfig{
		ID:               req.Name,
		TenantID:         GlobalTenantID,
		Name:             req.Name,
		Description:      req.Description,
		Version:          "1.0.0",
		Expression:       req.Expression,
		Shapes:           req.Shapes,
		Severity:         req.Severity,
		Message:          req.Message,
		FieldReference:   req.FieldReference,
		ConfidenceImpact: req.ConfidenceImpact,
		FraudWeight:      req.FraudWeight,
		Enabled:          true,
	}

	rule, err := h.compiler.Compile(cfg)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, GlobalTenantID, cfg); err != nil {
			slog.Error("failed to save rule config", "name", cfg.Name, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	h.engine.AddRule(rule)

	slog.Info("rule created", "name", cfg.Name, "revision", h.engine.Revision())
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":     cfg,
		"revision": h.engine.Revision(),
	})
}

// DeleteRule removes every engine rule with the given name and disables its
// saved configuration.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	removed := h.engine.RemoveRule(name)

	persisted := false
	if h.repo != nil {
		err := h.repo.DeleteRuleConfig(ctx, GlobalTenantID, name)
		switch {
		case err == nil:
			persisted = true
		case errors.Is(err, repository.ErrNotFound):
		default:
			slog.Error("failed to delete rule config", "name", name, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to delete rule",
			})
			return
		}
	}

	if removed == 0 && !persisted {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	slog.Info("rule deleted", "name", name, "removed", removed)
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    name,
		"removed": removed,
	})
}

// ReloadRules replaces the engine's expression rules with the saved ones.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}
	if h.compiler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule compiler not available",
		})
		return
	}

	configs, err := h.repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	compiled, err := h.compiler.CompileAll(configs)
	if err != nil {
		slog.Error("failed to compile saved rules", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	h.engine.ReloadExpressionRules(compiled)

	slog.Info("rules reloaded from database", "count", len(compiled))
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "rules reloaded successfully",
		"count":    len(compiled),
		"revision": h.engine.Revision(),
	})
}

func writeRepoError(w http.ResponseWriter, kind, id string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": kind + " not found",
		})
		return
	}
	slog.Error("failed to get "+kind, "id", id, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "failed to get " + kind,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
