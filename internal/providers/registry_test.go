package providers

import (
	"context"
	"testing"
)

type stubProvider struct {
	name  string
	model string
}

func (s *stubProvider) Chat(context.Context, ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Content: "ok from " + s.name}, nil
}

func (s *stubProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	return s.Chat(ctx, req)
}

func (s *stubProvider) DefaultModel() string { return s.model }
func (s *stubProvider) Name() string         { return s.name }

func TestProviderNameForModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o", "openai"},
		{"o3-mini", "openai"},
		{"chatgpt-4o-latest", "openai"},
		{"claude-sonnet-4-5", "anthropic"},
		{"CLAUDE-OPUS-4", "anthropic"},
		{"gemini-2.0-flash", "gemini"},
		{"models/gemini-1.5-pro", "gemini"},
		{"llama3.1:8b", "ollama"},
		{"qwen2.5:14b", "ollama"},
		{"", "ollama"},
	}
	for _, tt := range tests {
		if got := ProviderNameForModel(tt.model); got != tt.want {
			t.Errorf("ProviderNameForModel(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestForModel(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "ollama", model: "llama3.1:8b"})
	r.Register(&stubProvider{name: "anthropic", model: "claude-sonnet-4-5"})

	p, ok := r.ForModel("claude-haiku-3-5")
	if !ok || p.Name() != "anthropic" {
		t.Errorf("claude model routed to %v", p)
	}

	p, ok = r.ForModel("mistral:7b")
	if !ok || p.Name() != "ollama" {
		t.Errorf("unknown prefix should fall back to ollama, got %v", p)
	}

	// A model whose backend is not configured resolves to nothing.
	if _, ok := r.ForModel("gpt-4o"); ok {
		t.Error("unconfigured backend resolved")
	}
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "openai"})
	r.Register(&stubProvider{name: "anthropic"})

	names := r.Names()
	if len(names) != 2 || names[0] != "anthropic" || names[1] != "openai" {
		t.Errorf("Names() = %v", names)
	}
}

func TestIsLocal(t *testing.T) {
	if !IsLocal("ollama") {
		t.Error("ollama is local")
	}
	for _, name := range []string{"openai", "anthropic", "gemini", ""} {
		if IsLocal(name) {
			t.Errorf("IsLocal(%q) = true", name)
		}
	}
}
