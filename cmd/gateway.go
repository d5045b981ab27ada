package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/perceptualart/torbobase-sub002/internal/agents"
	"github.com/perceptualart/torbobase-sub002/internal/budget"
	"github.com/perceptualart/torbobase-sub002/internal/bus"
	"github.com/perceptualart/torbobase-sub002/internal/config"
	"github.com/perceptualart/torbobase-sub002/internal/gateway"
	httpapi "github.com/perceptualart/torbobase-sub002/internal/http"
	"github.com/perceptualart/torbobase-sub002/internal/memory"
	"github.com/perceptualart/torbobase-sub002/internal/privacy"
	"github.com/perceptualart/torbobase-sub002/internal/prompt"
	"github.com/perceptualart/torbobase-sub002/internal/providers"
	"github.com/perceptualart/torbobase-sub002/internal/skills"
	"github.com/perceptualart/torbobase-sub002/internal/store"
	"github.com/perceptualart/torbobase-sub002/internal/telemetry"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) {
		fmt.Println("No configuration found. Starting setup wizard...")
		fmt.Println()
		runOnboard()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		slog.Warn("telemetry init failed, continuing without", "error", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer shutdownTelemetry(context.Background())

	msgBus := bus.New()

	providerRegistry := providers.NewRegistry()
	ollama := registerProviders(providerRegistry, cfg)

	db, err := store.OpenSQLite(filepath.Join(cfg.DataDir(), "torbo.db"))
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	registry, err := agents.NewRegistry(cfg.AgentsDir(), msgBus)
	if err != nil {
		slog.Error("failed to open agent registry", "error", err)
		os.Exit(1)
	}

	ledger, err := budget.NewLedger(db)
	if err != nil {
		slog.Error("failed to open budget ledger", "error", err)
		os.Exit(1)
	}

	skillLoader, err := skills.NewLoader(cfg.SkillsDir())
	if err != nil {
		slog.Error("failed to load skills", "error", err)
		os.Exit(1)
	}

	// Memory pipeline. The embedder prefers the local model and falls back
	// to the deterministic hash embedder when Ollama is unreachable.
	var embedder memory.Embedder = memory.NewHashEmbedder(0)
	var completer memory.Completer
	if ollama != nil {
		embedder = memory.NewFallbackEmbedder(ollama, memory.NewHashEmbedder(0))
		completer = &ollamaCompleter{provider: ollama, model: cfg.Providers.Ollama.ExtractModel}
	}

	index, err := memory.NewIndex(db, embedder, cfg.Memory.MaxEntries)
	if err != nil {
		slog.Error("failed to open memory index", "error", err)
		os.Exit(1)
	}
	legacy, err := memory.NewLegacyStore(cfg.MemoryDir())
	if err != nil {
		slog.Error("failed to open legacy memory store", "error", err)
		os.Exit(1)
	}

	var pool *memory.Pool
	var maintainer *memory.Maintainer
	var searcher prompt.MemorySource
	if cfg.MemoryEnabled() {
		pool = memory.NewPool(index, legacy, completer, msgBus, memory.PoolConfig{
			Workers:        cfg.Memory.Workers,
			QueueDepth:     cfg.Memory.QueueDepth,
			ExtractTimeout: time.Duration(cfg.Memory.ExtractTimeoutSec) * time.Second,
		})
		maintainer = memory.NewMaintainer(index, completer, msgBus, memory.MaintenanceConfig{
			CompressSchedule: cfg.Memory.CompressSchedule,
			DecaySchedule:    cfg.Memory.DecaySchedule,
			HalfLife:         time.Duration(cfg.Memory.DecayHalfLifeDays) * 24 * time.Hour,
		})
		searcher = memory.NewSearcher(index, 0, 0)
	}

	assembler := prompt.NewAssembler(searcher, legacy, skillLoader, nil, nil)

	chatHandler := httpapi.NewChatCompletionsHandler(httpapi.ChatDeps{
		Agents:       registry,
		Providers:    providerRegistry,
		Ledger:       ledger,
		Assembler:    assembler,
		Pool:         pool,
		Bus:          msgBus,
		Token:        cfg.Gateway.Token,
		DefaultModel: cfg.Agents.DefaultModel,
		GlobalAccess: cfg.Agents.AccessLevel,
		PrivacyLevel: privacy.ParseLevel(cfg.Privacy.Level),
	})
	agentsHandler := httpapi.NewAgentsHandler(registry, cfg.Gateway.Token)
	memoryHandler := httpapi.NewMemoryHandler(index, cfg.Gateway.Token)
	modelsHandler := httpapi.NewModelsHandler(providerRegistry, cfg.Gateway.Token)

	server := gateway.NewServer(cfg, msgBus, chatHandler, agentsHandler, memoryHandler, modelsHandler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return skillLoader.Watch(gctx) })
	if pool != nil {
		g.Go(func() error { return pool.Run(gctx) })
	}
	if maintainer != nil {
		g.Go(func() error { return maintainer.Run(gctx) })
	}

	// Shut down on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("shutting down", "signal", sig.String())
			cancel()
		case <-gctx.Done():
		}
	}()

	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

// registerProviders wires the configured backends into the registry and
// returns the local provider for embedding and extraction duty.
func registerProviders(reg *providers.Registry, cfg *config.Config) *providers.OllamaProvider {
	p := cfg.Providers

	ollama := providers.NewOllamaProvider(p.Ollama.BaseURL, p.Ollama.Model, p.Ollama.EmbeddingModel)
	reg.Register(ollama)

	if p.OpenAI.APIKey != "" {
		reg.Register(providers.NewOpenAIProvider("openai", p.OpenAI.APIKey, p.OpenAI.APIBase, p.OpenAI.Model))
		slog.Info("provider enabled", "name", "openai")
	}
	if p.Anthropic.APIKey != "" {
		opts := []providers.AnthropicOption{}
		if p.Anthropic.Model != "" {
			opts = append(opts, providers.WithAnthropicModel(p.Anthropic.Model))
		}
		if p.Anthropic.APIBase != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(p.Anthropic.APIBase))
		}
		reg.Register(providers.NewAnthropicProvider(p.Anthropic.APIKey, opts...))
		slog.Info("provider enabled", "name", "anthropic")
	}
	if p.Gemini.APIKey != "" {
		reg.Register(providers.NewGeminiProvider(p.Gemini.APIKey, p.Gemini.APIBase, p.Gemini.Model))
		slog.Info("provider enabled", "name", "gemini")
	}

	return ollama
}

// ollamaCompleter adapts the local provider to the memory pipeline's
// Completer, pinning the small extraction model.
type ollamaCompleter struct {
	provider *providers.OllamaProvider
	model    string
}

func (c *ollamaCompleter) Complete(ctx context.Context, promptText string) (string, error) {
	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Model:    c.model,
		Messages: []providers.Message{{Role: "user", Content: promptText}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
