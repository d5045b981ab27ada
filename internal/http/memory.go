package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/perceptualart/torbobase-sub002/internal/memory"
)

// MemoryHandler serves direct memory inspection and editing endpoints.
type MemoryHandler struct {
	index *memory.Index
	token string
}

func NewMemoryHandler(index *memory.Index, token string) *MemoryHandler {
	return &MemoryHandler{index: index, token: token}
}

// RegisterRoutes registers the memory routes on the given mux. The /add and
// /remove forms are the canonical client surface; the REST forms are aliases.
func (h *MemoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/memory/add", requireAuth(h.token, h.handleAdd))
	mux.HandleFunc("POST /v1/memory", requireAuth(h.token, h.handleAdd))
	mux.HandleFunc("GET /v1/memory/search", requireAuth(h.token, h.handleSearch))
	mux.HandleFunc("POST /v1/memory/remove", requireAuth(h.token, h.handleRemoveByBody))
	mux.HandleFunc("DELETE /v1/memory/{id}", requireAuth(h.token, h.handleRemove))
	mux.HandleFunc("GET /v1/memory/stats", requireAuth(h.token, h.handleStats))
}

func (h *MemoryHandler) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text       string  `json:"text"`
		Category   string  `json:"category"`
		Importance float64 `json:"importance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Category == "" {
		req.Category = memory.CategoryManual
	}
	if req.Importance == 0 {
		req.Importance = 0.7
	}

	id, created, err := h.index.Add(r.Context(), req.Text, req.Category, "api", req.Importance)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]interface{}{"id": id, "created": created})
}

func (h *MemoryHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q parameter is required")
		return
	}
	topK, _ := strconv.Atoi(r.URL.Query().Get("k"))

	records, err := h.index.Search(r.Context(), query, topK, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": records})
}

func (h *MemoryHandler) handleRemoveByBody(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.ID == 0 {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := h.index.Remove(req.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": req.ID})
}

func (h *MemoryHandler) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid memory id")
		return
	}
	if err := h.index.Remove(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": id})
}

func (h *MemoryHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":      h.index.Count(),
		"categories": h.index.CategoryCounts(),
	})
}
