package api

import (
	"net/http"
	"time"

	"github.com/revittco/sare/internal/config"
	"github.com/revittco/sare/internal/sare"
)

type memoizeHandler struct {
	engine *sare.Engine
}

type memoizedRoute struct {
	Route string `json:"route"`
	TTL   string `json:"ttl"`
}

func (h *memoizeHandler) list(w http.ResponseWriter, _ *http.Request) {
	cp := h.engine.CodePath()
	routes := cp.MemoizedRoutes()
	out := make([]memoizedRoute, 0, len(routes))
	for _, r := range routes {
		out = append(out, memoizedRoute{Route: r, TTL: cp.RouteTTL(r).String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out, "total": len(out)})
}

type memoizeRequest struct {
	Route string `json:"route"`
	TTL   string `json:"ttl,omitempty"`
}

func (h *memoizeHandler) enable(w http.ResponseWriter, r *http.Request) {
	var req memoizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := config.ValidateRoute(req.Route); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid route", err.Error())
		return
	}
	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "ttl must be a non-negative duration")
			return
		}
		ttl = d
	}

	h.engine.Memoize(req.Route, ttl)
	writeJSON(w, http.StatusOK, memoizedRoute{
		Route: req.Route,
		TTL:   h.engine.CodePath().RouteTTL(req.Route).String(),
	})
}

func (h *memoizeHandler) disable(w http.ResponseWriter, r *http.Request) {
	route := r.URL.Query().Get("route")
	if route == "" {
		writeError(w, http.StatusBadRequest, "route query parameter is required")
		return
	}
	if !h.engine.CodePath().IsMemoized(route) {
		writeError(w, http.StatusNotFound, "route is not memoized")
		return
	}
	h.engine.Unmemoize(route)
	w.WriteHeader(http.StatusNoContent)
}
