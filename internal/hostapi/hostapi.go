// Package hostapi exposes the host-facing operations of an App over HTTP.
package hostapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/skosovsky/agentsync"
	"github.com/skosovsky/agentsync/app"
	"github.com/skosovsky/agentsync/syncer"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Host is the set of operations the routes call. *app.App implements it.
type Host interface {
	Resync(ctx context.Context) error
	Configure(ctx context.Context, repoURL, branch string) error
	Status() syncer.Status
	Agents() []agentsync.Agent
	Agent(nameOrID string) (agentsync.Agent, error)
	ClearCache(maxAge time.Duration) int
}

var _ Host = (*app.App)(nil)

type handler struct {
	host   Host
	logger *slog.Logger
}

// NewRouter returns the routes:
//
//	GET    /healthz
//	GET    /status
//	POST   /sync
//	PUT    /repository      {"url": "...", "branch": "..."}
//	GET    /agents
//	GET    /agents/{name}   id or case-insensitive name
//	DELETE /cache           ?maxAge=10m removes only older entries
//	GET    /metrics         when gatherer is non-nil
func NewRouter(host Host, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default().With("component", "hostapi")
	}
	h := &handler{host: host, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", h.status)
	r.Post("/sync", h.sync)
	r.Put("/repository", h.configure)
	r.Route("/agents", func(r chi.Router) {
		r.Get("/", h.listAgents)
		r.Get("/{name}", h.getAgent)
	})
	r.Delete("/cache", h.clearCache)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.host.Status())
}

// The sync cycle runs on a context detached from the request so a client that disconnects does
// not abort the cycle or its queued rerun.
func (h *handler) sync(w http.ResponseWriter, r *http.Request) {
	err := h.host.Resync(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "status": h.host.Status()})
	case errors.Is(err, syncer.ErrNotConfigured):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.logger.WarnContext(r.Context(), "sync request failed", "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "status": h.host.Status()})
	default:
		writeJSON(w, http.StatusOK, h.host.Status())
	}
}

type repositoryRequest struct {
	URL    string `json:"url"`
	Branch string `json:"branch"`
}

func (h *handler) configure(w http.ResponseWriter, r *http.Request) {
	var req repositoryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	err := h.host.Configure(context.WithoutCancel(r.Context()), req.URL, req.Branch)
	switch {
	case errors.Is(err, app.ErrInvalidRepository):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		// The repository is configured; only its first sync failed.
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "status": h.host.Status()})
	default:
		writeJSON(w, http.StatusOK, h.host.Status())
	}
}

func (h *handler) listAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.host.Agents())
}

func (h *handler) getAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.host.Agent(chi.URLParam(r, "name"))
	if errors.Is(err, agentsync.ErrAgentNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *handler) clearCache(w http.ResponseWriter, r *http.Request) {
	var maxAge time.Duration
	if v := r.URL.Query().Get("maxAge"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "maxAge must be a positive duration")
			return
		}
		maxAge = d
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": h.host.ClearCache(maxAge)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
