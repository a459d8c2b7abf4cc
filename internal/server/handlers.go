package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coreason-ai/catalog/internal/broker"
	"github.com/coreason-ai/catalog/internal/model"
	"github.com/coreason-ai/catalog/internal/registry"
)

// UserContextHeader carries an out-of-band user context that overrides the
// request body's user_context. Gateways use it to stamp the authenticated
// identity without rewriting the body.
const UserContextHeader = "X-User-Context"

// HealthChecker reports index reachability for the health endpoint.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// QueryBroker is the slice of the broker the HTTP layer needs.
type QueryBroker interface {
	DispatchQuery(ctx context.Context, req model.QueryRequest) (model.CatalogResponse, error)
}

// SourceRegistrar is the slice of the registry the HTTP layer needs.
type SourceRegistrar interface {
	Register(ctx context.Context, manifest model.SourceManifest) error
}

// HandlersDeps holds dependencies for creating Handlers.
type HandlersDeps struct {
	Broker              QueryBroker
	Registry            SourceRegistrar
	Health              HealthChecker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	broker    QueryBroker
	registry  SourceRegistrar
	health    HealthChecker
	logger    *slog.Logger
	version   string
	maxBody   int64
	startedAt time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		broker:    deps.Broker,
		registry:  deps.Registry,
		health:    deps.Health,
		logger:    deps.Logger,
		version:   deps.Version,
		maxBody:   deps.MaxRequestBodyBytes,
		startedAt: time.Now(),
	}
}

// HandleHealth serves GET /health. Always 200 when the process is up; index
// reachability is reported in the body, not the status code, so orchestrators
// don't restart the broker over a flaky index.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status: "ok",
		Uptime: int64(time.Since(h.startedAt).Seconds()),
	}
	if h.health != nil {
		if err := h.health.Healthy(r.Context()); err != nil {
			resp.Index = "unreachable"
		} else {
			resp.Index = "ok"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleRegisterSource serves POST /v1/sources.
func (h *Handlers) HandleRegisterSource(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var manifest model.SourceManifest
	if err := decodeJSON(r, &manifest); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid manifest body: "+err.Error())
		return
	}

	if err := h.registry.Register(r.Context(), manifest); err != nil {
		if errors.Is(err, registry.ErrInvalidManifest) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.Error("register source failed", "urn", manifest.URN, "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, model.RegisterResponse{
		Status: "registered",
		URN:    manifest.URN,
	})
}

// HandleQuery serves POST /v1/query.
func (h *Handlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req model.QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid query body: "+err.Error())
		return
	}

	if strings.TrimSpace(req.Intent) == "" {
		writeError(w, http.StatusUnprocessableEntity, "intent is required")
		return
	}
	// Zero is a valid limit: an explicit request for no candidates.
	if req.Limit != nil && *req.Limit < 0 {
		writeError(w, http.StatusUnprocessableEntity, "limit must not be negative")
		return
	}

	// An X-User-Context header replaces the body's user context wholesale.
	// A header that fails to parse is ignored with a warning; the body value
	// stands.
	if raw := r.Header.Get(UserContextHeader); raw != "" {
		var headerCtx model.UserContext
		if err := json.Unmarshal([]byte(raw), &headerCtx); err != nil {
			h.logger.Warn("unparseable X-User-Context header, using body user_context",
				"error", err,
				"request_id", RequestIDFromContext(r.Context()),
			)
		} else {
			req.UserContext = headerCtx
		}
	}

	resp, err := h.broker.DispatchQuery(r.Context(), req)
	if err != nil {
		h.logger.Error("query dispatch failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

var _ QueryBroker = (*broker.Broker)(nil)
