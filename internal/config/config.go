package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Config is the root configuration for the Torbo gateway.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Providers ProvidersConfig `json:"providers"`
	Agents    AgentsConfig    `json:"agents"`
	Memory    MemoryConfig    `json:"memory"`
	Privacy   PrivacyConfig   `json:"privacy"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// GatewayConfig configures the HTTP listener.
type GatewayConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Token        string `json:"-"` // from env TORBO_GATEWAY_TOKEN only
	RateLimitRPM int    `json:"rate_limit_rpm"` // 0 = disabled
	DataDir      string `json:"data_dir"`       // application-support root (agents/, memory/, skills/)
}

// ProvidersConfig holds per-backend credentials and endpoints.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `json:"openai,omitempty"`
	Anthropic ProviderConfig `json:"anthropic,omitempty"`
	Gemini    ProviderConfig `json:"gemini,omitempty"`
	Ollama    OllamaConfig   `json:"ollama,omitempty"`
}

// ProviderConfig is one remote backend.
type ProviderConfig struct {
	APIKey     string `json:"-"` // from env only, never persisted
	APIBase    string `json:"api_base,omitempty"`
	Model      string `json:"model,omitempty"` // default model for this backend
	TimeoutSec int    `json:"timeout_sec,omitempty"`
}

// OllamaConfig is the local inference daemon.
type OllamaConfig struct {
	BaseURL        string `json:"base_url,omitempty"`
	Model          string `json:"model,omitempty"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
	ExtractModel   string `json:"extract_model,omitempty"` // small model used by the librarian
	TimeoutSec     int    `json:"timeout_sec,omitempty"`
}

// AgentsConfig holds registry-wide agent settings.
type AgentsConfig struct {
	DefaultModel string   `json:"default_model"` // used when neither body nor agent names one
	AccessLevel  int      `json:"access_level"`  // global ceiling, 0-5
	SandboxPaths []string `json:"sandbox_paths,omitempty"`
}

// MemoryConfig configures the vector index and its workers.
type MemoryConfig struct {
	Enabled           *bool  `json:"enabled,omitempty"` // default true (nil = enabled)
	MaxEntries        int    `json:"max_entries,omitempty"`
	Workers           int    `json:"workers,omitempty"`
	QueueDepth        int    `json:"queue_depth,omitempty"`
	CompressSchedule  string `json:"compress_schedule,omitempty"` // cron expression
	DecaySchedule     string `json:"decay_schedule,omitempty"`    // cron expression
	DecayHalfLifeDays int    `json:"decay_half_life_days,omitempty"`
	ExtractTimeoutSec int    `json:"extract_timeout_sec,omitempty"`
}

// PrivacyConfig configures PII redaction for remote providers.
type PrivacyConfig struct {
	Level string `json:"level"` // "off", "basic", "standard", "strict"
}

// TelemetryConfig configures OTLP trace export for dispatch spans.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // OTLP/HTTP endpoint, e.g. "localhost:4318"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// HasAnyRemoteProvider reports whether at least one remote backend has an
// API key configured.
func (c *Config) HasAnyRemoteProvider() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.Providers
	return p.OpenAI.APIKey != "" || p.Anthropic.APIKey != "" || p.Gemini.APIKey != ""
}

// MemoryEnabled reports whether the memory pipeline should run.
func (c *Config) MemoryEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Memory.Enabled == nil || *c.Memory.Enabled
}

// DataDir returns the expanded application-support root.
func (c *Config) DataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Gateway.DataDir)
}

// AgentsDir returns the per-agent record directory.
func (c *Config) AgentsDir() string { return filepath.Join(c.DataDir(), "agents") }

// MemoryDir returns the legacy structured-memory directory.
func (c *Config) MemoryDir() string { return filepath.Join(c.DataDir(), "memory") }

// SkillsDir returns the skill definition directory.
func (c *Config) SkillsDir() string { return filepath.Join(c.DataDir(), "skills") }

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = src.Gateway
	c.Providers = src.Providers
	c.Agents = src.Agents
	c.Memory = src.Memory
	c.Privacy = src.Privacy
	c.Telemetry = src.Telemetry
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with every configured secret
// replaced by a mask. The `json:"-"` tags drop secrets during the round-trip
// copy, so the masks are re-seeded from the source afterwards.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	cp.Gateway.Token = maskSecret(c.Gateway.Token)
	cp.Providers.OpenAI.APIKey = maskSecret(c.Providers.OpenAI.APIKey)
	cp.Providers.Anthropic.APIKey = maskSecret(c.Providers.Anthropic.APIKey)
	cp.Providers.Gemini.APIKey = maskSecret(c.Providers.Gemini.APIKey)

	return cp
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return secretMask
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
