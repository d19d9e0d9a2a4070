package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default config file",
	Long:  `Generate a default quotamux configuration file at ~/.config/quotamux/config.yaml`,
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().StringP("output", "o", "", "output path (default: ~/.config/quotamux/config.yaml)")
	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return fmt.Errorf("failed to get force flag: %w", err)
	}

	if output == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		output = filepath.Join(home, ".config", "quotamux", "config.yaml")
	}

	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", output)
	}

	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(output, []byte(defaultConfigTemplate), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("✓ config file created at %s\n", output)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Fill in api_keys and/or vertex_api_keys")
	fmt.Println("  2. Validate with: quotamux config validate")
	fmt.Println("  3. Start the admin server: quotamux serve")

	return nil
}

const defaultConfigTemplate = `# quotamux configuration

api_keys:
  - key: "REPLACE_WITH_API_KEY"
    rpm_override: 0

vertex_api_keys: []

rpm_limits:
  gemini-1.5-flash: 60
  gemini-1.5-pro: 15

max_failures: 5
max_retries: 3
rpm_window_seconds: 60
rpm_prefer_cache: true

vertex_project_id: ""
vertex_location: "us-central1"

server:
  listen: "127.0.0.1:8089"
  timeout_ms: 15000
  max_concurrent: 0
  auth:
    bearer_token: ""
    allow_localhost_bypass: true

logging:
  level: "info"
  format: "auto"
  output: "stdout"
  pretty: false

cache:
  mode: "single"
  ristretto:
    num_counters: 1000000
    max_cost: 104857600
    buffer_items: 64

circuit_breaker:
  failure_threshold: 5
  open_duration_ms: 30000
  half_open_probes: 3
`
