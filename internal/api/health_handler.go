package api

import (
	"net/http"
	"time"

	"github.com/revittco/sare/internal/sare"
)

type healthHandler struct {
	engine  *sare.Engine
	version string
	started time.Time
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int    `json:"uptime_seconds"`
	Enabled       bool   `json:"enabled"`
}

func newHealthHandler(e *sare.Engine, version string) *healthHandler {
	if version == "" {
		version = "dev"
	}
	return &healthHandler{engine: e, version: version, started: time.Now()}
}

func (h *healthHandler) check(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int(time.Since(h.started).Seconds()),
		Enabled:       h.engine.Enabled(),
	})
}
