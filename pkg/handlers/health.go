package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tenantguard/pkg/config"
	"github.com/ekaya-inc/tenantguard/pkg/database"
	"github.com/ekaya-inc/tenantguard/pkg/logging"
)

// readyTimeout bounds the readiness query.
const readyTimeout = 2 * time.Second

var errNoPublicLease = errors.New("no public lease on request context")

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// ReadyResponse reports whether the database is reachable through the lease pool.
type ReadyResponse struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Pool   database.Stats `json:"pool"`
}

// HealthHandler handles health check, readiness and ping endpoints.
type HealthHandler struct {
	cfg    *config.Config
	pool   *database.ScopedPool
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(cfg *config.Config, pool *database.ScopedPool, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, pool: pool, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux. /ready
// runs behind publicLease, which checks out the cleared connection it queries.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux, publicLease func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
	mux.HandleFunc("GET /ready", publicLease(h.Ready))
}

// Health handles GET /health requests. It never touches the database.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready handles GET /ready requests. It runs SELECT 1 on the request's public
// lease; checkout failures never reach it and are answered by the middleware.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status, resp := http.StatusOK, ReadyResponse{Status: "ready"}
	if err := h.selectOne(ctx); err != nil {
		h.logger.Warn("Readiness check failed", zap.String("error", logging.SanitizeError(err)))
		status, resp = http.StatusServiceUnavailable, ReadyResponse{Status: "unavailable", Error: logging.SanitizeError(err)}
	}
	resp.Pool = h.pool.Stats()

	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to encode ready response", zap.Error(err))
	}
}

func (h *HealthHandler) selectOne(ctx context.Context) error {
	lease, ok := database.PublicLeaseFromContext(ctx)
	if !ok {
		return errNoPublicLease
	}
	var one int
	return lease.Conn().QueryRow(ctx, "SELECT 1").Scan(&one)
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "tenantguard",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
