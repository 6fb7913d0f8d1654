package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/felipepmaragno/quotagate/internal/gate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HandlerConfig struct {
	Gate *gate.Gate

	// Upstream receives every request the gate lets through. Without one,
	// gated requests get a JSON 404.
	Upstream http.Handler

	Checkers      []HealthChecker
	HealthTimeout time.Duration
}

type Handler struct {
	mux *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	healthTimeout := cfg.HealthTimeout
	if healthTimeout == 0 {
		healthTimeout = 2 * time.Second
	}

	h := &Handler{
		mux: http.NewServeMux(),
	}

	upstream := cfg.Upstream
	if upstream == nil {
		upstream = http.HandlerFunc(handleNotFound)
	}
	if cfg.Gate != nil {
		upstream = cfg.Gate.Wrap(upstream)
	}

	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReadyWithCheckers(cfg.Checkers, healthTimeout))
	h.mux.Handle("GET /metrics", promhttp.Handler())
	h.mux.Handle("/", upstream)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}
