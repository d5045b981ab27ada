package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/perceptualart/torbobase-sub002/internal/agents"
)

func newAgentsMux(t *testing.T) *http.ServeMux {
	t.Helper()
	registry, err := agents.NewRegistry(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	NewAgentsHandler(registry, "").RegisterRoutes(mux)
	return mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestAgentsCRUD(t *testing.T) {
	mux := newAgentsMux(t)

	w := do(mux, "POST", "/v1/agents", `{"id": "muse", "name": "Muse", "access_level": 3}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body.String())
	}

	w = do(mux, "GET", "/v1/agents/muse", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d", w.Code)
	}
	var got agents.Agent
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "Muse" || got.AccessLevel != 3 {
		t.Errorf("agent = %+v", got)
	}

	w = do(mux, "PUT", "/v1/agents/muse", `{"name": "Muse", "voice_tone": "Dry."}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d: %s", w.Code, w.Body.String())
	}

	w = do(mux, "GET", "/v1/agents", "")
	if w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}
	var list struct {
		Agents []agents.Agent `json:"agents"`
	}
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Agents) != 2 {
		t.Errorf("list = %d agents", len(list.Agents))
	}
	if list.Agents[0].ID != agents.DefaultAgentID {
		t.Errorf("default agent not listed first")
	}

	w = do(mux, "DELETE", "/v1/agents/muse", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete = %d", w.Code)
	}
	if w := do(mux, "GET", "/v1/agents/muse", ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", w.Code)
	}
}

func TestAgentsErrorMapping(t *testing.T) {
	mux := newAgentsMux(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing agent", "GET", "/v1/agents/ghost", "", http.StatusNotFound},
		{"invalid id", "POST", "/v1/agents", `{"id": "Bad Id", "name": "x"}`, http.StatusBadRequest},
		{"duplicate id", "POST", "/v1/agents", `{"id": "torbo", "name": "x"}`, http.StatusConflict},
		{"delete built-in", "DELETE", "/v1/agents/torbo", "", http.StatusConflict},
		{"bad json", "POST", "/v1/agents", `{nope`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(mux, tt.method, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("%s %s = %d, want %d: %s", tt.method, tt.path, w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAgentsResetEndpoint(t *testing.T) {
	mux := newAgentsMux(t)
	do(mux, "PUT", "/v1/agents/torbo", `{"name": "Torbo", "voice_tone": "Gruff."}`)

	w := do(mux, "POST", "/v1/agents/torbo/reset", "")
	if w.Code != http.StatusOK {
		t.Fatalf("reset = %d: %s", w.Code, w.Body.String())
	}
	var a agents.Agent
	json.Unmarshal(w.Body.Bytes(), &a)
	if a.VoiceTone == "Gruff." {
		t.Error("reset kept the customized voice")
	}
}

func TestAgentsExportImport(t *testing.T) {
	mux := newAgentsMux(t)
	do(mux, "POST", "/v1/agents", `{"id": "muse", "name": "Muse", "daily_token_limit": 500}`)

	w := do(mux, "GET", "/v1/agents/muse/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d", w.Code)
	}
	exported := w.Body.String()

	other := newAgentsMux(t)
	w = do(other, "POST", "/v1/agents/import", exported)
	if w.Code != http.StatusCreated {
		t.Fatalf("import = %d: %s", w.Code, w.Body.String())
	}
	var a agents.Agent
	json.Unmarshal(w.Body.Bytes(), &a)
	if a.DailyTokenLimit != 500 || a.BuiltIn {
		t.Errorf("imported = %+v", a)
	}

	// Importing over the built-in is refused.
	w = do(other, "POST", "/v1/agents/import", `{"id": "torbo", "name": "Impostor"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("import over built-in = %d", w.Code)
	}
}
