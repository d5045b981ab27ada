package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/perceptualart/torbobase-sub002/internal/agents"
)

// AgentsHandler serves the agent CRUD endpoints.
type AgentsHandler struct {
	registry *agents.Registry
	token    string
}

func NewAgentsHandler(registry *agents.Registry, token string) *AgentsHandler {
	return &AgentsHandler{registry: registry, token: token}
}

// RegisterRoutes registers the agent management routes on the given mux.
func (h *AgentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/agents", requireAuth(h.token, h.handleList))
	mux.HandleFunc("POST /v1/agents", requireAuth(h.token, h.handleCreate))
	mux.HandleFunc("GET /v1/agents/{id}", requireAuth(h.token, h.handleGet))
	mux.HandleFunc("PUT /v1/agents/{id}", requireAuth(h.token, h.handleUpdate))
	mux.HandleFunc("DELETE /v1/agents/{id}", requireAuth(h.token, h.handleDelete))
	mux.HandleFunc("POST /v1/agents/{id}/reset", requireAuth(h.token, h.handleReset))
	mux.HandleFunc("GET /v1/agents/{id}/export", requireAuth(h.token, h.handleExport))
	mux.HandleFunc("POST /v1/agents/import", requireAuth(h.token, h.handleImport))
}

// writeAgentError maps registry sentinels to HTTP status codes.
func writeAgentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agents.ErrNotFound):
		writeError(w, http.StatusNotFound, "agent not found")
	case errors.Is(err, agents.ErrIDExists):
		writeError(w, http.StatusConflict, "agent id already exists")
	case errors.Is(err, agents.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "agent id must be a slug (lowercase letters, digits, hyphen, underscore)")
	case errors.Is(err, agents.ErrBuiltIn):
		writeError(w, http.StatusConflict, "built-in agents cannot be deleted or overwritten")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *AgentsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": h.registry.List()})
}

func (h *AgentsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	a, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *AgentsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var a agents.Agent
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.registry.Create(&a); err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *AgentsHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var a agents.Agent
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	a.ID = r.PathValue("id")
	if err := h.registry.Update(&a); err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *AgentsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.PathValue("id")); err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": r.PathValue("id")})
}

func (h *AgentsHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Reset(r.PathValue("id")); err != nil {
		writeAgentError(w, err)
		return
	}
	a, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *AgentsHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := h.registry.Export(r.PathValue("id"))
	if err != nil {
		writeAgentError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *AgentsHandler) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	a, err := h.registry.Import(data)
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}
