package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is a config file's on-disk serialization.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// UnsupportedFormatError is returned for any config path whose
// extension isn't one of .yaml, .yml, or .toml.
type UnsupportedFormatError struct {
	Extension string
	Path      string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported config format %q for file %s (supported: .yaml, .yml, .toml)", e.Extension, e.Path)
}

func detectFormat(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", &UnsupportedFormatError{Extension: ext, Path: path}
	}
}

// Load reads and parses the config file at path, picking YAML or TOML
// from its extension. ${VAR_NAME} references in the raw file content
// are expanded from the process environment before parsing, so a
// deployment can keep its api_keys entries out of the file itself.
func Load(path string) (*Config, error) {
	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close config file: %w", cerr)
		}
	}()

	return parseConfig(file, format)
}

// LoadFromReader parses r as YAML, expanding ${VAR_NAME} references
// the same way Load does.
//
// Deprecated: use Load with a file path so the format comes from the
// extension, or LoadFromReaderWithFormat to pick TOML explicitly.
func LoadFromReader(r io.Reader) (*Config, error) {
	return parseConfig(r, FormatYAML)
}

// LoadFromReaderWithFormat parses r in the given format, expanding
// ${VAR_NAME} references the same way Load does.
func LoadFromReaderWithFormat(r io.Reader, format Format) (*Config, error) {
	return parseConfig(r, format)
}

func parseConfig(r io.Reader, format Format) (*Config, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := os.ExpandEnv(string(content))

	var cfg Config
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	default:
		return nil, fmt.Errorf("internal error: unknown format %s", format)
	}

	return &cfg, nil
}
