package api

import (
	"net/http"
	"time"

	"github.com/revittco/toolgate/internal/cache"
	"github.com/revittco/toolgate/internal/store"
)

var startTime = time.Now()

type healthHandler struct {
	store store.Store
	cache *cache.IntegrationSource // optional
}

type healthResponse struct {
	Status        string       `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int          `json:"uptime_seconds"`
	Database      string       `json:"database"`
	Cache         *cache.Stats `json:"cache,omitempty"`
}

func (h *healthHandler) check(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       "0.1.0",
		UptimeSeconds: int(time.Since(startTime).Seconds()),
		Database:      "ok",
	}
	status := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}
	if h.cache != nil {
		s := h.cache.Stats()
		resp.Cache = &s
	}
	writeJSON(w, status, resp)
}
