package main

import (
	"os"
	"path/filepath"
)

// resolveConfigPath returns the --config flag value if set, otherwise
// searches default locations: the current directory, then
// ~/.config/quotamux/config.yaml. The final fallback is always
// defaultConfigFile, so downstream Load calls get a consistent "not
// found" error rather than an empty path.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}

	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}

	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		p := filepath.Join(home, ".config", "quotamux", defaultConfigFile)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return defaultConfigFile
}
