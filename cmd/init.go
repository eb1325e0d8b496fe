package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/akashicode/docuquery/internal/config"
	"github.com/akashicode/docuquery/internal/display"
)

var (
	initDir      string
	initProvider string
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yaml",
	Long: `Writes a config.yaml with every setting at its default value to
~/.docuquery/ (or --dir). Existing files are kept unless --force is set.

The API key is left empty; prefer the API_KEY environment variable.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initDir, "dir", "d", "", "Directory to write config.yaml to (default: ~/.docuquery)")
	initCmd.Flags().StringVar(&initProvider, "provider", config.ProviderGemini, "Completion provider (gemini, openai, anthropic)")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config.yaml")
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, _ []string) error {
	dir := initDir
	if dir == "" {
		d, err := defaultConfigDir()
		if err != nil {
			return fmt.Errorf("resolve config directory: %w", err)
		}
		dir = d
	}

	cfg := config.Default()
	cfg.LLM.Provider = initProvider
	cfg.LLM.Model = cfg.LLM.ModelOrDefault()
	if err := config.Validate(&cfg); err != nil {
		return err
	}

	path, err := writeConfig(dir, &cfg, initForce)
	if err != nil {
		return err
	}

	display.Header("docuquery initialized")
	display.FileCreated(path)
	display.NextSteps([]string{
		"export API_KEY=<your " + cfg.LLM.Provider + " key>",
		"docuquery ask report.pdf \"What is this document about?\"",
		"docuquery serve",
	})
	return nil
}

// writeConfig marshals cfg to dir/config.yaml and returns the file path.
func writeConfig(dir string, cfg *config.Config, force bool) (string, error) {
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
