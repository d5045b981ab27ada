package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Token = "topsecret"
	cfg.Providers.OpenAI.APIKey = "sk-live"
	cfg.Gateway.Port = 9999

	cp := cfg.MaskedCopy()

	if cp.Gateway.Token != secretMask {
		t.Errorf("Token = %q, want mask", cp.Gateway.Token)
	}
	if cp.Providers.OpenAI.APIKey != secretMask {
		t.Errorf("OpenAI key = %q, want mask", cp.Providers.OpenAI.APIKey)
	}
	if cp.Providers.Anthropic.APIKey != "" {
		t.Errorf("unset Anthropic key = %q, want empty", cp.Providers.Anthropic.APIKey)
	}
	if cp.Gateway.Port != 9999 {
		t.Errorf("Port = %d, not copied", cp.Gateway.Port)
	}

	// The copy never leaks the real values, and the source keeps them.
	if cp.Gateway.Token == "topsecret" || cp.Providers.OpenAI.APIKey == "sk-live" {
		t.Error("MaskedCopy leaked a secret")
	}
	if cfg.Gateway.Token != "topsecret" || cfg.Providers.OpenAI.APIKey != "sk-live" {
		t.Error("MaskedCopy mutated the source")
	}
}

func TestSaveOmitsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Token = "topsecret"
	cfg.Providers.OpenAI.APIKey = "sk-live"

	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if s := string(data); strings.Contains(s, "topsecret") || strings.Contains(s, "sk-live") {
		t.Errorf("secrets persisted to config file:\n%s", s)
	}
}
