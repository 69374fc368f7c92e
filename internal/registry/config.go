package registry

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Default scripted transport timing, used for any zero field of MockConfig.
const (
	DefaultMockOpenTimeout     = 10 * time.Millisecond
	DefaultMockCloseTimeout    = 10 * time.Millisecond
	DefaultMockMessageInterval = time.Millisecond
)

// MockConfig selects the scripted transport and sets its timing.
type MockConfig struct {
	OpenTimeout     time.Duration `yaml:"openTimeout"`
	CloseTimeout    time.Duration `yaml:"closeTimeout"`
	MessageInterval time.Duration `yaml:"messageInterval"`
	// Script is the path of a replay script delivered after every open.
	Script string `yaml:"script"`
	// NoLoopback stops sent envelopes from being delivered back.
	NoLoopback bool `yaml:"noLoopback"`
}

func (m MockConfig) withDefaults() MockConfig {
	if m.OpenTimeout <= 0 {
		m.OpenTimeout = DefaultMockOpenTimeout
	}
	if m.CloseTimeout <= 0 {
		m.CloseTimeout = DefaultMockCloseTimeout
	}
	if m.MessageInterval <= 0 {
		m.MessageInterval = DefaultMockMessageInterval
	}
	return m
}

// UnmarshalYAML reads each timing either as a duration string ("250ms") or
// as a bare number of milliseconds, the unit Acquire uses for its map form.
func (m *MockConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		OpenTimeout     yaml.Node `yaml:"openTimeout"`
		CloseTimeout    yaml.Node `yaml:"closeTimeout"`
		MessageInterval yaml.Node `yaml:"messageInterval"`
		Script          string    `yaml:"script"`
		NoLoopback      bool      `yaml:"noLoopback"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	out := MockConfig{Script: raw.Script, NoLoopback: raw.NoLoopback}
	fields := []struct {
		key  string
		node *yaml.Node
		dst  *time.Duration
	}{
		{"openTimeout", &raw.OpenTimeout, &out.OpenTimeout},
		{"closeTimeout", &raw.CloseTimeout, &out.CloseTimeout},
		{"messageInterval", &raw.MessageInterval, &out.MessageInterval},
	}
	for _, f := range fields {
		if f.node.Kind == 0 {
			continue
		}
		d, err := yamlDuration(f.node)
		if err != nil {
			return fmt.Errorf("mock %s: %w", f.key, err)
		}
		*f.dst = d
	}
	*m = out
	return nil
}

func yamlDuration(node *yaml.Node) (time.Duration, error) {
	switch node.ShortTag() {
	case "!!int", "!!float":
		var ms float64
		if err := node.Decode(&ms); err != nil {
			return 0, err
		}
		return millis(ms)
	}
	var d time.Duration
	if err := node.Decode(&d); err != nil {
		return 0, err
	}
	return d, nil
}

// Config describes one broker endpoint. A nil Mock selects the network
// transport.
type Config struct {
	URL  string      `yaml:"url" validate:"required,wsurl"`
	Mock *MockConfig `yaml:"mock,omitempty"`
}

// UnmarshalYAML accepts mock either as a boolean or as a timing mapping.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		URL  string    `yaml:"url"`
		Mock yaml.Node `yaml:"mock"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.URL = raw.URL
	c.Mock = nil

	switch raw.Mock.Kind {
	case 0:
	case yaml.ScalarNode:
		var enabled bool
		if err := raw.Mock.Decode(&enabled); err != nil {
			return fmt.Errorf("connection %s: mock must be a boolean or a mapping: %w", raw.URL, err)
		}
		if enabled {
			c.Mock = &MockConfig{}
		}
	case yaml.MappingNode:
		var m MockConfig
		if err := raw.Mock.Decode(&m); err != nil {
			return fmt.Errorf("connection %s: %w", raw.URL, err)
		}
		c.Mock = &m
	default:
		return fmt.Errorf("connection %s: mock must be a boolean or a mapping", raw.URL)
	}
	return nil
}
