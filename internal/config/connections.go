package config

import (
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/nfrund/brokerlink/internal/registry"
)

// connectionsFile is the YAML layout of BROKER_CONNECTIONS_FILE.
type connectionsFile struct {
	Connections []registry.Config `yaml:"connections"`
}

// LoadConnections reads and validates the connections listed in path.
//
//	connections:
//	  - url: ws://localhost:8085
//	  - url: ws://bench-rig:8085
//	    mock:
//	      openTimeout: 50ms
//	      script: scripts/bench.jsonl
func LoadConnections(fs afero.Fs, path string) ([]registry.Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read connections file: %w", err)
	}

	var file connectionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse connections file %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(file.Connections))
	for i, c := range file.Connections {
		if err := Validate(c); err != nil {
			return nil, fmt.Errorf("connections file %s entry %d: %w", path, i, err)
		}
		if _, dup := seen[c.URL]; dup {
			return nil, fmt.Errorf("connections file %s: %s is listed twice", path, c.URL)
		}
		seen[c.URL] = struct{}{}
	}
	return file.Connections, nil
}

// Connections returns the primary broker connection followed by those of the
// connections file, if one is configured. A file entry for the primary URL is
// dropped.
func (c *Config) Connections(fs afero.Fs) ([]registry.Config, error) {
	primary := registry.Config{URL: c.BrokerURL}
	if c.Mock {
		primary.Mock = &registry.MockConfig{}
	}
	out := []registry.Config{primary}

	if c.ConnectionsFile == "" {
		return out, nil
	}
	extra, err := LoadConnections(fs, c.ConnectionsFile)
	if err != nil {
		return nil, err
	}
	for _, e := range extra {
		if e.URL != primary.URL {
			out = append(out, e)
		}
	}
	return out, nil
}
