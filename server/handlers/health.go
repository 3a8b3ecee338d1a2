package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teilomillet/chatguard/errors"
	"github.com/teilomillet/chatguard/server/middleware"
	"github.com/teilomillet/chatguard/server/orchestrator"
)

const pingTimeout = 2 * time.Second

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderHealth reports per-provider health.
type ProviderHealth interface {
	Health() map[string]orchestrator.HealthStatus
	Healthy() bool
}

// HealthHandler serves the health, status and echo endpoints.
type HealthHandler struct {
	store     Pinger
	providers ProviderHealth
	version   string
	logger    *zap.Logger
	now       func() time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(store Pinger, providers ProviderHealth, version string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{store: store, providers: providers, version: version, logger: logger, now: time.Now}
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status    string                               `json:"status"`
	DB        string                               `json:"db"`
	Providers map[string]orchestrator.HealthStatus `json:"providers"`
	Error     string                               `json:"error,omitempty"`
}

// Health handles GET /api/health. It answers 503 when storage is
// unreachable or no provider is healthy.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", DB: "connected"}
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("Health check: storage unreachable", zap.Error(err))
		resp.Status = "fail"
		resp.DB = "not connected"
		resp.Error = "storage unreachable"
		code = http.StatusServiceUnavailable
	}

	if h.providers != nil {
		resp.Providers = h.providers.Health()
		if !h.providers.Healthy() {
			resp.Status = "fail"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, h.logger, code, resp)
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Status handles GET /api/status.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, StatusResponse{
		Status:    "running",
		Version:   h.version,
		Timestamp: h.now().UTC(),
	})
}

// Echo handles POST /api/echo by returning the received JSON.
func (h *HealthHandler) Echo(w http.ResponseWriter, r *http.Request) {
	var data json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&data); err != nil {
		h.logger.Warn("Invalid JSON received at echo", zap.Error(err))
		errors.WriteError(w, errors.NewError(errors.BadRequestError, "Invalid JSON", http.StatusBadRequest,
			middleware.GetRequestID(r.Context()), nil, err))
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]json.RawMessage{"echo": data})
}
