package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads a run configuration from a file.
//
// The file format is determined by extension:
//   - .json -> JSON
//   - anything else -> YAML
//
// Defaults are applied to the result but it is not validated; callers apply
// flag overrides first and then call Validate.
func LoadConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses configuration data. path is only used to pick the format.
func ParseConfig(data []byte, path string) (*RunConfig, error) {
	var config RunConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	config.ApplyDefaults()
	return &config, nil
}
