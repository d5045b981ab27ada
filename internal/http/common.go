// Package http implements the gateway's HTTP API: OpenAI-compatible chat
// completions plus agent, memory, and model management endpoints.
package http

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Request headers understood by the gateway.
const (
	HeaderAgentID   = "X-Torbo-Agent-Id"
	HeaderPlatform  = "X-Torbo-Platform"
	HeaderSessionID = "X-Torbo-Session-Id"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// requireAuth wraps a handler with bearer-token auth. An empty configured
// token disables the check.
func requireAuth(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" && extractBearerToken(r) != token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}
