package api

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/revittco/sare/internal/optimizer"
	"github.com/revittco/sare/internal/sare"
	"github.com/revittco/sare/internal/store"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

type evolutionHandler struct {
	engine *sare.Engine
	store  store.EvolutionStore
}

// log pages through the in-memory evolution log, newest first.
func (h *evolutionHandler) log(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pageParams(q.Get("limit"), q.Get("offset"))
	actionType := q.Get("action_type")

	entries := h.engine.Optimizer().EvolutionLog()
	slices.Reverse(entries)
	if actionType != "" {
		entries = slices.DeleteFunc(entries, func(e optimizer.Entry) bool {
			return !hasActionType(e, actionType)
		})
	}

	total := len(entries)
	page := []optimizer.Entry{}
	if offset < total {
		page = entries[offset:min(offset+limit, total)]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   page,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// query searches the durable archive.
func (h *evolutionHandler) query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EvolutionFilter{}
	filter.Limit, filter.Offset = pageParams(q.Get("limit"), q.Get("offset"))

	if v := q.Get("entry_id"); v != "" {
		filter.EntryID = &v
	}
	if v := q.Get("action_type"); v != "" {
		filter.ActionType = &v
	}
	if v := q.Get("after"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.After = &t
		}
	}
	if v := q.Get("before"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Before = &t
		}
	}

	records, total, err := h.store.QueryEvolutionRecords(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query evolution records")
		return
	}

	if records == nil {
		records = []store.EvolutionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   records,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *evolutionHandler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetEvolutionRecord(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "evolution record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get evolution record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// archiveStats aggregates the archive over [after, before]. Both bounds
// default to the last 24 hours.
func (h *evolutionHandler) archiveStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	before := time.Now().UTC()
	after := before.Add(-24 * time.Hour)
	if v := q.Get("after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be RFC3339")
			return
		}
		after = t
	}
	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be RFC3339")
			return
		}
		before = t
	}

	stats, err := h.store.GetEvolutionStats(r.Context(), after, before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get evolution stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func pageParams(limitStr, offsetStr string) (limit, offset int) {
	limit = defaultPageLimit
	if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= maxPageLimit {
		limit = n
	}
	if n, err := strconv.Atoi(offsetStr); err == nil && n >= 0 {
		offset = n
	}
	return limit, offset
}

func hasActionType(e optimizer.Entry, typ string) bool {
	for _, a := range e.Actions {
		if string(a.Type) == typ {
			return true
		}
	}
	return false
}
