package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "127.0.0.1",
			Port:         18900,
			RateLimitRPM: 60,
			DataDir:      "~/.torbo",
		},
		Providers: ProvidersConfig{
			Ollama: OllamaConfig{
				BaseURL:        "http://localhost:11434",
				Model:          "llama3.1:8b",
				EmbeddingModel: "nomic-embed-text",
				ExtractModel:   "llama3.2:3b",
			},
		},
		Agents: AgentsConfig{
			DefaultModel: "llama3.1:8b",
			AccessLevel:  3,
		},
		Memory: MemoryConfig{
			MaxEntries:        5000,
			Workers:           2,
			QueueDepth:        256,
			CompressSchedule:  "0 4 * * *",
			DecaySchedule:     "30 4 * * *",
			DecayHalfLifeDays: 30,
			ExtractTimeoutSec: 60,
		},
		Privacy: PrivacyConfig{
			Level: "standard",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values. Secrets come from env only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("TORBO_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("TORBO_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("TORBO_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("TORBO_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)

	envStr("TORBO_HOST", &c.Gateway.Host)
	if v := os.Getenv("TORBO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	envStr("TORBO_DATA_DIR", &c.Gateway.DataDir)
	envStr("TORBO_OLLAMA_URL", &c.Providers.Ollama.BaseURL)
	envStr("TORBO_DEFAULT_MODEL", &c.Agents.DefaultModel)
	envStr("TORBO_PRIVACY_LEVEL", &c.Privacy.Level)

	envStr("TORBO_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("TORBO_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("TORBO_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file. Secrets carry `json:"-"` tags so
// they never persist.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
