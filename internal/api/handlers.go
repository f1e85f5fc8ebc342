package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"linkrescue/internal/cache"
	"linkrescue/internal/models"
)

const maxRequestBody = 1 << 20

// Runner streams check results for a set of link targets.
type Runner interface {
	Run(ctx context.Context, targets []models.LinkTarget) <-chan models.CheckResult
}

// CacheClearer empties one cache namespace.
type CacheClearer interface {
	Clear(ctx context.Context, ns cache.Namespace) (int64, error)
}

// Handlers holds dependencies for the API handlers.
type Handlers struct {
	runner Runner
	cache  CacheClearer
	logger *slog.Logger
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(runner Runner, c CacheClearer, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{runner: runner, cache: c, logger: logger}
}

type checkRequest struct {
	Links []models.LinkTarget `json:"links"`
	URLs  []string            `json:"urls"`
}

func (req checkRequest) targets() []models.LinkTarget {
	out := make([]models.LinkTarget, 0, len(req.Links)+len(req.URLs))
	for _, l := range req.Links {
		if strings.TrimSpace(l.URL) != "" {
			out = append(out, l)
		}
	}
	for _, u := range req.URLs {
		if strings.TrimSpace(u) != "" {
			out = append(out, models.LinkTarget{URL: u})
		}
	}
	return out
}

// CreateCheck runs a check and streams one JSON result per line as each
// link reaches its final state.
func (h *Handlers) CreateCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	targets := req.targets()
	if len(targets) == 0 {
		http.Error(w, "no links to check", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	results := h.runner.Run(r.Context(), targets)
	sent := 0
	for res := range results {
		if err := enc.Encode(res); err != nil {
			h.logger.Debug("client went away", "request_id", middleware.GetReqID(r.Context()), "error", err)
			break
		}
		_ = rc.Flush()
		sent++
	}
	h.logger.Info("check streamed", "request_id", middleware.GetReqID(r.Context()), "links", len(targets), "results", sent)
}

// ClearCache empties the namespace named in the path.
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	ns, ok := cache.ParseNamespace(chi.URLParam(r, "namespace"))
	if !ok {
		http.Error(w, "unknown cache namespace", http.StatusNotFound)
		return
	}
	n, err := h.cache.Clear(r.Context(), ns)
	if err != nil {
		h.logger.Error("clear cache failed", "namespace", string(ns), "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Namespace string `json:"namespace"`
		Removed   int64  `json:"removed"`
	}{string(ns), n})
}

// Healthz is a simple health check endpoint.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
