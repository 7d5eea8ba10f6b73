package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/normalize"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/scoring"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline *pipeline.Pipeline
	catalog  *scoring.Catalog
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	version  string
}

// NewHandler creates a new API handler. repo, cache and bus may be nil.
func NewHandler(p *pipeline.Pipeline, catalog *scoring.Catalog, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		pipeline: p,
		catalog:  catalog,
		repo:     repo,
		cache:    cache,
		bus:      bus,
		version:  version,
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// Predict handles POST /predict.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := GetRequestID(ctx)

	raw, ok := decodeApplicant(w, r)
	if !ok {
		return
	}

	res, err := h.pipeline.Predict(ctx, raw)
	if err != nil {
		h.writePredictError(ctx, w, err)
		return
	}

	slog.Info("application scored",
		"request_id", requestID,
		"stage", res.SourceStage,
		"classification", res.Classification,
		"probability", res.ApprovalProbability,
		"risk", res.RiskLevel,
		"remote_failure", res.RemoteFailure,
	)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) writePredictError(ctx context.Context, w http.ResponseWriter, err error) {
	requestID := GetRequestID(ctx)

	var ve *normalize.ValidationError
	switch {
	case errors.As(err, &ve):
		slog.Info("application rejected as invalid", "request_id", requestID, "field", ve.Field, "reason", ve.Reason)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ve.Error(), Field: ve.Field})
	case errors.Is(err, pipeline.ErrHeuristicStage):
		slog.Error("prediction failed", "request_id", requestID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "heuristic scoring failed"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		slog.Warn("prediction abandoned", "request_id", requestID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "request cancelled"})
	default:
		slog.Error("prediction failed", "request_id", requestID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// SubmitResponse is returned by POST /applications.
type SubmitResponse struct {
	RequestID string `json:"requestId"`
	Topic     string `json:"topic"`
}

// Submit handles POST /applications: the raw application is queued for the
// async worker and the decision is published on the decision topic.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "event bus not available"})
		return
	}

	raw, ok := decodeApplicant(w, r)
	if !ok {
		return
	}

	requestID := GetRequestID(r.Context())
	if requestID == "" {
		requestID = uuid.New().String()
	}

	payload, err := json.Marshal(domain.ApplicationSubmitted{RequestID: requestID, Applicant: raw})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "application is not serializable"})
		return
	}

	if err := h.bus.Publish(r.Context(), domain.TopicApplicationSubmitted, payload); err != nil {
		slog.Error("failed to queue application", "request_id", requestID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "failed to queue application"})
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{RequestID: requestID, Topic: domain.TopicDecision})
}

// decodeApplicant reads a JSON object body. Numbers are kept as json.Number
// so integer fields are not silently truncated.
func decodeApplicant(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil || raw == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON request body"})
		return nil, false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "request body must contain a single JSON object"})
		return nil, false
	}
	return raw, true
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	RuleSet string            `json:"ruleSet,omitempty"`
	Remote  bool              `json:"remoteEnabled"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Health returns server health status. A failing backend degrades the
// status but never fails the request.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Remote:  h.pipeline.RemoteEnabled(),
		Checks:  map[string]string{},
	}
	if active := h.catalog.Engine().Active(); active != nil {
		resp.RuleSet = active.Version
	}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			return
		}
		resp.Checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("bus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Ready reports whether a rule set is active and requests can be scored.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.catalog.Engine().Active() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRuleSets returns the built-in and stored rule sets.
func (h *Handler) ListRuleSets(w http.ResponseWriter, r *http.Request) {
	sets, err := h.catalog.List(r.Context())
	if err != nil {
		slog.Error("failed to list rule sets", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to list rule sets"})
		return
	}

	active := ""
	if rs := h.catalog.Engine().Active(); rs != nil {
		active = rs.Version
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ruleSets": sets,
		"count":    len(sets),
		"active":   active,
	})
}

// GetActiveRuleSet returns the rule set currently used for scoring.
func (h *Handler) GetActiveRuleSet(w http.ResponseWriter, r *http.Request) {
	rs := h.catalog.Engine().Active()
	if rs == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no active rule set"})
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// GetRuleSet returns one rule set by version.
func (h *Handler) GetRuleSet(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")

	rs, err := h.catalog.Get(r.Context(), version)
	if err != nil {
		writeRuleSetError(w, version, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// CreateRuleSet validates and stores a rule set. It is not activated.
func (h *Handler) CreateRuleSet(w http.ResponseWriter, r *http.Request) {
	var rs domain.RuleSet
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&rs); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON request body"})
		return
	}

	if err := h.catalog.Save(r.Context(), &rs); err != nil {
		writeRuleSetError(w, rs.Version, err)
		return
	}

	slog.Info("rule set saved", "version", rs.Version, "groups", len(rs.Groups))
	writeJSON(w, http.StatusCreated, rs)
}

// ActivateRuleSet makes a stored rule set the active one.
func (h *Handler) ActivateRuleSet(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")

	rs, err := h.catalog.Activate(r.Context(), version)
	if err != nil {
		writeRuleSetError(w, version, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rule set activated",
		"active":  rs.Version,
	})
}

func writeRuleSetError(w http.ResponseWriter, version string, err error) {
	switch {
	case errors.Is(err, scoring.ErrUnknownRuleSet):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "rule set not found"})
	case errors.Is(err, scoring.ErrInvalidRuleSet):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, scoring.ErrReservedVersion):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, scoring.ErrNoStore):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "rule set store not available"})
	default:
		slog.Error("rule set operation failed", "version", version, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "rule set operation failed"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
