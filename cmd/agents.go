package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perceptualart/torbobase-sub002/internal/agents"
	"github.com/perceptualart/torbobase-sub002/internal/config"
)

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agent records",
	}
	cmd.AddCommand(agentsListCmd(), agentsExportCmd(), agentsImportCmd())
	return cmd
}

func openRegistry() (*agents.Registry, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	return agents.NewRegistry(cfg.AgentsDir(), nil)
}

func agentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openRegistry()
			if err != nil {
				return err
			}
			for _, a := range registry.List() {
				marker := ""
				if a.BuiltIn {
					marker = " (built-in)"
				}
				model := a.PreferredModel
				if model == "" {
					model = "-"
				}
				fmt.Printf("%-16s %-24s level %d  model %s%s\n", a.ID, a.Name, a.AccessLevel, model, marker)
			}
			return nil
		},
	}
}

func agentsExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <id>",
		Short: "Print an agent record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openRegistry()
			if err != nil {
				return err
			}
			data, err := registry.Export(args[0])
			if err != nil {
				return err
			}
			os.Stdout.Write(data)
			return nil
		},
	}
}

func agentsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import an agent record from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openRegistry()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			a, err := registry.Import(data)
			if err != nil {
				return err
			}
			fmt.Printf("imported %s (%s)\n", a.ID, a.Name)
			return nil
		},
	}
}
