package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile loads values from a file, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
func FromFile(path string) (Values, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Values{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Values{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML expands environment references in data and parses it as YAML.
func FromYAML(data []byte) (Values, error) {
	var m map[string]any
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &m); err != nil {
		return Values{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON expands environment references in data and parses it as JSON.
func FromJSON(data []byte) (Values, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(os.ExpandEnv(string(data))), &m); err != nil {
		return Values{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}

// Load reads, decodes and validates a settings file.
func Load(path string) (Settings, error) {
	v, err := FromFile(path)
	if err != nil {
		return Settings{}, err
	}
	return Parse(v)
}
