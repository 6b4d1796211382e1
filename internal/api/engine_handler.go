package api

import (
	"bytes"
	"net/http"

	"github.com/revittco/sare/internal/optimizer"
	"github.com/revittco/sare/internal/sare"
	"github.com/revittco/sare/internal/traffic"
)

type engineHandler struct {
	engine *sare.Engine
}

// report returns the intelligence report as JSON, or as the plain-text
// rendering with ?format=text.
func (h *engineHandler) report(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, h.engine.Report())
	case "text":
		var buf bytes.Buffer
		if err := h.engine.WriteReport(&buf); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to render report")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	default:
		writeError(w, http.StatusBadRequest, "invalid format: use json or text")
	}
}

func (h *engineHandler) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *engineHandler) suggestions(w http.ResponseWriter, _ *http.Request) {
	out := h.engine.Optimizer().Suggestions()
	if out == nil {
		out = []optimizer.Suggestion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

type routeResponse struct {
	ID string `json:"id"`
	traffic.RouteStats
	Hot        bool `json:"hot"`
	Memoized   bool `json:"memoized"`
	Preencoded bool `json:"preencoded"`
}

func (h *engineHandler) routes(w http.ResponseWriter, _ *http.Request) {
	cp := h.engine.CodePath()
	stats := h.engine.Analyzer().Routes()
	out := make([]routeResponse, 0, len(stats))
	for _, rs := range stats {
		id := rs.ID()
		out = append(out, routeResponse{
			ID:         id,
			RouteStats: rs,
			Hot:        h.engine.IsHotRoute(rs.Method, rs.Path),
			Memoized:   cp.IsMemoized(id),
			Preencoded: cp.IsPreencoded(id),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out, "total": len(out)})
}

type middlewareResponse struct {
	Stats        []traffic.MiddlewareStats `json:"stats"`
	OptimalOrder []string                  `json:"optimal_order"`
}

func (h *engineHandler) middleware(w http.ResponseWriter, _ *http.Request) {
	resp := middlewareResponse{
		Stats:        h.engine.Analyzer().Middleware(),
		OptimalOrder: h.engine.OptimizedMiddlewareOrder(),
	}
	if resp.Stats == nil {
		resp.Stats = []traffic.MiddlewareStats{}
	}
	if resp.OptimalOrder == nil {
		resp.OptimalOrder = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *engineHandler) predictions(w http.ResponseWriter, _ *http.Request) {
	p := h.engine.Predictor()
	if p == nil {
		writeError(w, http.StatusNotFound, "predictor disabled")
		return
	}
	writeJSON(w, http.StatusOK, p.FullReport())
}

// optimize forces an optimization cycle regardless of the interval.
func (h *engineHandler) optimize(w http.ResponseWriter, _ *http.Request) {
	h.engine.Optimizer().RunCycle()
	writeJSON(w, http.StatusOK, h.engine.Optimizer().Stats())
}

func (h *engineHandler) reset(w http.ResponseWriter, _ *http.Request) {
	h.engine.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *engineHandler) enable(w http.ResponseWriter, _ *http.Request) {
	h.engine.Enable()
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

func (h *engineHandler) disable(w http.ResponseWriter, _ *http.Request) {
	h.engine.Disable()
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}
