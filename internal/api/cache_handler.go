package api

import (
	"net/http"

	"github.com/revittco/sare/internal/codepath"
	"github.com/revittco/sare/internal/sare"
)

type cacheHandler struct {
	engine *sare.Engine
}

type cacheStatsResponse struct {
	CodePath         codepath.Stats `json:"codepath"`
	MemoizedRoutes   []string       `json:"memoized_routes"`
	PreencodedRoutes []string       `json:"preencoded_routes"`
}

func (h *cacheHandler) stats(w http.ResponseWriter, _ *http.Request) {
	cp := h.engine.CodePath()
	writeJSON(w, http.StatusOK, cacheStatsResponse{
		CodePath:         cp.Stats(),
		MemoizedRoutes:   cp.MemoizedRoutes(),
		PreencodedRoutes: cp.PreencodedRoutes(),
	})
}

type flushRequest struct {
	Layer string `json:"layer"` // "responses", "expired", "all" (default)
}

func (h *cacheHandler) flush(w http.ResponseWriter, r *http.Request) {
	var req flushRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}
	if req.Layer == "" {
		req.Layer = "all"
	}

	cp := h.engine.CodePath()
	switch req.Layer {
	case "expired":
		n := cp.Cleanup()
		writeJSON(w, http.StatusOK, map[string]any{"status": "flushed", "evicted": n})
		return
	case "responses", "all":
		cp.FlushCache()
	default:
		writeError(w, http.StatusBadRequest, "invalid layer: use responses, expired, or all")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}
