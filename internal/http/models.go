package http

import (
	"net/http"
	"time"

	"github.com/perceptualart/torbobase-sub002/internal/providers"
)

// ModelsHandler serves the OpenAI-compatible model listing.
type ModelsHandler struct {
	registry *providers.Registry
	token    string
}

func NewModelsHandler(registry *providers.Registry, token string) *ModelsHandler {
	return &ModelsHandler{registry: registry, token: token}
}

// RegisterRoutes registers the model listing route on the given mux.
func (h *ModelsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/models", requireAuth(h.token, h.handleList))
}

func (h *ModelsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	now := time.Now().Unix()
	models := make([]modelInfo, 0, 4)
	for _, name := range h.registry.Names() {
		p, ok := h.registry.Get(name)
		if !ok {
			continue
		}
		models = append(models, modelInfo{
			ID:      p.DefaultModel(),
			Object:  "model",
			Created: now,
			OwnedBy: name,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"object": "list", "data": models})
}

type modelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}
