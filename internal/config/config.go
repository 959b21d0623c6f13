package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds the application configuration
type Config struct {
	Classes  []string       `json:"classes"`
	Detector DetectorConfig `json:"detector"`
	Export   ExportConfig   `json:"export"`
}

// DetectorConfig holds configuration for the detection backend
type DetectorConfig struct {
	Backend        string `json:"backend"`
	URL            string `json:"url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ExportConfig holds defaults for dataset export
type ExportConfig struct {
	Format    string  `json:"format"`
	TestSplit float64 `json:"test_split"`
	Seed      int64   `json:"seed"`
	OnlyReady bool    `json:"only_ready"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Classes: []string{"Class 1"},
		Detector: DetectorConfig{
			Backend:        "none",
			URL:            "http://localhost:11434",
			Model:          "openbmb/minicpm-v4.5",
			TimeoutSeconds: 300,
		},
		Export: ExportConfig{
			Format:    "json",
			TestSplit: 0.0,
			Seed:      42,
			OnlyReady: false,
		},
	}
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Classes) == 0 {
		return fmt.Errorf("classes cannot be empty")
	}

	seen := make(map[string]struct{}, len(c.Classes))
	for _, name := range c.Classes {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("classes must be unique: %q", name)
		}
		seen[name] = struct{}{}
	}

	switch c.Detector.Backend {
	case "none", "mock", "ollama", "detserver":
	default:
		return fmt.Errorf("detector.backend must be one of none, mock, ollama, detserver")
	}

	if c.Detector.TimeoutSeconds < 0 {
		return fmt.Errorf("detector.timeout_seconds must not be negative")
	}

	switch strings.ToLower(c.Export.Format) {
	case "csv", "json", "yolo":
	default:
		return fmt.Errorf("export.format must be one of csv, json, yolo")
	}

	if c.Export.TestSplit < 0 || c.Export.TestSplit > 1 {
		return fmt.Errorf("export.test_split must be between 0 and 1")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "annobox", "config.json")
}
