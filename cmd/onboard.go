package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/perceptualart/torbobase-sub002/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup wizard",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

// runOnboard walks through the minimal setup and writes the config file.
// Secrets never land in the file; the wizard prints export lines instead.
func runOnboard() {
	cfg := config.Default()

	var (
		ollamaURL    = cfg.Providers.Ollama.BaseURL
		defaultModel = cfg.Agents.DefaultModel
		privacyLevel = cfg.Privacy.Level
		openaiKey    string
		anthropicKey string
		geminiKey    string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Ollama URL").
				Description("Local inference daemon (memory extraction and the default backend)").
				Value(&ollamaURL),
			huh.NewInput().
				Title("Default model").
				Description("Used when neither the request nor the agent names one").
				Value(&defaultModel),
			huh.NewSelect[string]().
				Title("Privacy level").
				Description("How aggressively to redact PII before it reaches remote backends").
				Options(
					huh.NewOption("off (no redaction)", "off"),
					huh.NewOption("basic (emails, SSNs, cards, phones)", "basic"),
					huh.NewOption("standard (basic plus medical, financial, addresses)", "standard"),
					huh.NewOption("strict (standard plus person names)", "strict"),
				).
				Value(&privacyLevel),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("OpenAI API key (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&openaiKey),
			huh.NewInput().
				Title("Anthropic API key (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&anthropicKey),
			huh.NewInput().
				Title("Gemini API key (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&geminiKey),
		),
	)

	if err := form.Run(); err != nil {
		fmt.Println("setup cancelled:", err)
		os.Exit(1)
	}

	cfg.Providers.Ollama.BaseURL = ollamaURL
	cfg.Agents.DefaultModel = defaultModel
	cfg.Privacy.Level = privacyLevel

	cfgPath := resolveConfigPath()
	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Println("failed to write config:", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("Wrote %s\n", cfgPath)
	fmt.Println()

	// API keys stay out of the config file; they load from the environment.
	exports := make([]string, 0, 3)
	if openaiKey != "" {
		exports = append(exports, "export TORBO_OPENAI_API_KEY="+openaiKey)
	}
	if anthropicKey != "" {
		exports = append(exports, "export TORBO_ANTHROPIC_API_KEY="+anthropicKey)
	}
	if geminiKey != "" {
		exports = append(exports, "export TORBO_GEMINI_API_KEY="+geminiKey)
	}
	if len(exports) > 0 {
		fmt.Println("API keys are read from the environment, not the config file.")
		fmt.Println("Add these to your shell profile or an .env.local you source:")
		fmt.Println()
		for _, line := range exports {
			fmt.Println("  " + line)
		}
		fmt.Println()
	}

	fmt.Println("Start the gateway with:  torbo gateway")
}
