// Package http exposes the state of a running session over HTTP.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/mengelbart/framesync"
)

type StatsService interface {
	Stats() framesync.SessionStats
}

type API struct {
	logger  *slog.Logger
	stats   StatsService
	metrics http.Handler
}

// NewAPI returns an API reporting the state of stats. metrics may be nil, in
// which case /metrics is not registered.
func NewAPI(stats StatsService, metrics http.Handler, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		logger:  logger,
		stats:   stats,
		metrics: metrics,
	}
}

func (a *API) RegisterRoutes(mux *httprouter.Router) {
	mux.HandlerFunc("GET", "/api/v1/stats", a.GetStats)
	mux.HandlerFunc("GET", "/api/v1/streams", a.ListStreams)
	mux.HandlerFunc("GET", "/api/v1/streams/:name", a.GetStream)
	if a.metrics != nil {
		mux.Handler("GET", "/metrics", a.metrics)
	}
}

// Router returns a new router with all routes registered.
func (a *API) Router() *httprouter.Router {
	mux := httprouter.New()
	a.RegisterRoutes(mux)
	return mux
}

func (a *API) GetStats(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, a.stats.Stats())
}

func (a *API) ListStreams(w http.ResponseWriter, r *http.Request) {
	stats := a.stats.Stats()
	a.writeJSON(w, map[string]framesync.QueueStats{
		"primary":   stats.Primary,
		"secondary": stats.Secondary,
	})
}

func (a *API) GetStream(w http.ResponseWriter, r *http.Request) {
	stats := a.stats.Stats()
	switch name := httprouter.ParamsFromContext(r.Context()).ByName("name"); name {
	case "primary":
		a.writeJSON(w, stats.Primary)
	case "secondary":
		a.writeJSON(w, stats.Secondary)
	default:
		http.Error(w, "unknown stream "+name, http.StatusNotFound)
	}
}

func (a *API) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}
