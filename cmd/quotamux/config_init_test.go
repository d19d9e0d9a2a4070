package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// newMockInitCmd creates a cobra.Command with the output and force
// flags pre-registered, matching configInitCmd's own flags.
func newMockInitCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "init"}
	cmd.Flags().StringP("output", "o", "", "output path")
	cmd.Flags().Bool("force", false, "overwrite existing")
	return cmd
}

// Neither test here can run in parallel: both point HOME at a
// temp directory, and HOME is process-wide state.

func TestRunConfigInit_DefaultPath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cmd := newMockInitCmd()
	if err := runConfigInit(cmd, nil); err != nil {
		t.Fatalf("runConfigInit() error = %v", err)
	}

	configPath := filepath.Join(tmpDir, ".config", "quotamux", "config.yaml")
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", configPath, err)
	}

	content := string(data)
	if !strings.Contains(content, "server:") {
		t.Error("generated config missing server: section")
	}
	if !strings.Contains(content, "api_keys:") {
		t.Error("generated config missing api_keys: section")
	}
}

func TestRunConfigInit_CustomPath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	output := filepath.Join(tmpDir, "custom", "quotamux.yaml")
	cmd := newMockInitCmd()
	if err := cmd.Flags().Set("output", output); err != nil {
		t.Fatal(err)
	}

	if err := runConfigInit(cmd, nil); err != nil {
		t.Fatalf("runConfigInit() error = %v", err)
	}
	if _, err := os.Stat(output); err != nil {
		t.Errorf("expected config file at %s: %v", output, err)
	}
}

func TestRunConfigInit_RefusesToOverwriteWithoutForce(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	output := filepath.Join(tmpDir, "quotamux.yaml")
	if err := os.WriteFile(output, []byte("existing: content\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := newMockInitCmd()
	if err := cmd.Flags().Set("output", output); err != nil {
		t.Fatal(err)
	}

	if err := runConfigInit(cmd, nil); err == nil {
		t.Error("runConfigInit() error = nil, want error for existing file without --force")
	}

	data, err := os.ReadFile(filepath.Clean(output))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "existing: content\n" {
		t.Error("runConfigInit() overwrote existing file despite missing --force")
	}
}

func TestRunConfigInit_ForceOverwrites(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	output := filepath.Join(tmpDir, "quotamux.yaml")
	if err := os.WriteFile(output, []byte("existing: content\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := newMockInitCmd()
	if err := cmd.Flags().Set("output", output); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("force", "true"); err != nil {
		t.Fatal(err)
	}

	if err := runConfigInit(cmd, nil); err != nil {
		t.Fatalf("runConfigInit() error = %v, want nil with --force", err)
	}

	data, err := os.ReadFile(filepath.Clean(output))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "existing: content") {
		t.Error("runConfigInit() did not overwrite despite --force")
	}
}
