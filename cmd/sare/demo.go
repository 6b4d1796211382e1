package main

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/revittco/sare/internal/sare"
)

// The demo application gives the engine something to observe: a small
// catalogue with one deliberately slow endpoint.

const slowDelay = 150 * time.Millisecond

type item struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

func (it item) fields() map[string]any {
	return map[string]any{"id": it.ID, "name": it.Name, "price": it.Price, "stock": it.Stock}
}

type catalogue struct {
	mu     sync.RWMutex
	items  map[int]item
	orders int
}

func newCatalogue() *catalogue {
	c := &catalogue{items: make(map[int]item)}
	for i, name := range []string{"widget", "gadget", "gizmo", "doohickey"} {
		c.items[i+1] = item{ID: i + 1, Name: name, Price: float64(i+1) * 2.5, Stock: 10 * (i + 1)}
	}
	return c
}

func newDemoMux() *http.ServeMux {
	c := newCatalogue()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/items", c.list)
	mux.HandleFunc("GET /api/items/{id}", c.get)
	mux.HandleFunc("POST /api/orders", c.order)
	mux.HandleFunc("GET /api/report/slow", c.slow)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]any{"status": "ok"})
	})
	return mux
}

func (c *catalogue) list(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	out := make([]item, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b item) int { return a.ID - b.ID })
	writeJSON(w, r, http.StatusOK, map[string]any{"items": out, "count": len(out)})
}

func (c *catalogue) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, map[string]any{"error": "invalid id"})
		return
	}
	c.mu.RLock()
	it, ok := c.items[id]
	c.mu.RUnlock()
	if !ok {
		writeJSON(w, r, http.StatusNotFound, map[string]any{"error": "item not found"})
		return
	}
	writeJSON(w, r, http.StatusOK, it.fields())
}

type orderRequest struct {
	ItemID   int `json:"item_id"`
	Quantity int `json:"quantity"`
}

func (c *catalogue) order(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity <= 0 {
		writeJSON(w, r, http.StatusBadRequest, map[string]any{"error": "invalid order"})
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[req.ItemID]
	if !ok {
		writeJSON(w, r, http.StatusNotFound, map[string]any{"error": "item not found"})
		return
	}
	if it.Stock < req.Quantity {
		writeJSON(w, r, http.StatusConflict, map[string]any{"error": "insufficient stock"})
		return
	}
	it.Stock -= req.Quantity
	c.items[it.ID] = it
	c.orders++
	writeJSON(w, r, http.StatusCreated, map[string]any{"order": c.orders, "item": it.fields()})
}

func (c *catalogue) slow(w http.ResponseWriter, r *http.Request) {
	select {
	case <-r.Context().Done():
		return
	case <-time.After(slowDelay):
	}
	c.mu.RLock()
	var stock int
	for _, it := range c.items {
		stock += it.Stock
	}
	c.mu.RUnlock()
	writeJSON(w, r, http.StatusOK, map[string]any{"total_stock": stock, "generated_at": time.Now().UTC()})
}

// writeJSON goes through sare.WriteJSON so pre-encoded routes are
// served from their learned templates.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v map[string]any) {
	_ = sare.WriteJSON(w, r, status, v)
}
