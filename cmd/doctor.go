package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/perceptualart/torbobase-sub002/internal/agents"
	"github.com/perceptualart/torbobase-sub002/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("torbo doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Printf("  Data dir: %s\n", cfg.DataDir())
	fmt.Println()

	fmt.Println("  Providers:")
	checkProvider("OpenAI", cfg.Providers.OpenAI.APIKey)
	checkProvider("Anthropic", cfg.Providers.Anthropic.APIKey)
	checkProvider("Gemini", cfg.Providers.Gemini.APIKey)
	checkOllama(cfg.Providers.Ollama.BaseURL)

	fmt.Println()
	fmt.Println("  Agents:")
	registry, err := agents.NewRegistry(cfg.AgentsDir(), nil)
	if err != nil {
		fmt.Printf("    registry error: %s\n", err)
		return
	}
	for _, a := range registry.List() {
		marker := ""
		if a.BuiltIn {
			marker = " (built-in)"
		}
		fmt.Printf("    %-16s %s%s\n", a.ID, a.Name, marker)
	}

	fmt.Println()
	fmt.Printf("  Privacy:  %s\n", cfg.Privacy.Level)
	if cfg.Gateway.Token == "" {
		fmt.Println("  Token:    NOT SET (set TORBO_GATEWAY_TOKEN to require auth)")
	} else {
		fmt.Println("  Token:    set")
	}
}

func checkProvider(name, apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-12s not configured\n", name+":")
		return
	}
	fmt.Printf("    %-12s key set\n", name+":")
}

// checkOllama pings the local daemon so a dead Ollama shows up here instead
// of as silent hash-embedder fallback at runtime.
func checkOllama(baseURL string) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/version", nil)
	if err != nil {
		fmt.Printf("    %-12s %s (bad URL)\n", "Ollama:", baseURL)
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("    %-12s %s (UNREACHABLE)\n", "Ollama:", baseURL)
		return
	}
	resp.Body.Close()
	fmt.Printf("    %-12s %s (OK)\n", "Ollama:", baseURL)
}
