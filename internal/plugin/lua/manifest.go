// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package lua

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Manifest represents a plugin.yaml file at the root of a script
// directory. Name and Version feed the plugin registry, which applies
// its own validation; Main names the entry script relative to the
// directory.
type Manifest struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Main    string `yaml:"main"`
}

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if m.Main == "" {
		return fmt.Errorf("main is required")
	}
	return nil
}
