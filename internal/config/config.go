// Package config loads and saves mixer session files. YAML is the default
// format; files ending in .toml are read and written as TOML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/guidoenr/gomixer/internal/mixer"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the session file.
type Config struct {
	ClientName string    `yaml:"client_name" toml:"client_name"`
	Inputs     []Channel `yaml:"inputs" toml:"inputs"`
	Outputs    []Channel `yaml:"outputs" toml:"outputs"`

	path string
}

// Channel is one input or output entry. The number of ports decides mono or
// stereo.
type Channel struct {
	Name     string   `yaml:"name" toml:"name"`
	Ports    []string `yaml:"ports" toml:"ports"`
	VolumeDB *float64 `yaml:"volume_db,omitempty" toml:"volume_db,omitempty"`
}

// Load reads, parses and validates the session file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := Parse(data, formatOf(path))
	if err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	cfg.path = path
	return cfg, nil
}

// Parse decodes data in the given format ("yaml" or "toml") and validates it.
func Parse(data []byte, format string) (*Config, error) {
	var cfg Config
	switch format {
	case "toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Path is where the config was loaded from, empty for parsed configs.
func (c *Config) Path() string { return c.path }

// Validate checks the structural rules the engine relies on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ClientName) == "" {
		return fmt.Errorf("%w: client_name cannot be empty", ErrInvalid)
	}
	if len(c.Inputs) == 0 {
		return fmt.Errorf("%w: at least one input channel is required", ErrInvalid)
	}
	if len(c.Outputs) == 0 {
		return fmt.Errorf("%w: at least one output channel is required", ErrInvalid)
	}
	ports := make(map[string]string)
	check := func(role string, list []Channel) error {
		for i, ch := range list {
			if strings.TrimSpace(ch.Name) == "" {
				return fmt.Errorf("%w: %s channel %d has empty name", ErrInvalid, role, i)
			}
			if len(ch.Ports) == 0 {
				return fmt.Errorf("%w: %s channel %q has no ports defined", ErrInvalid, role, ch.Name)
			}
			if len(ch.Ports) > 2 {
				return fmt.Errorf("%w: %s channel %q has %d ports, max 2 supported", ErrInvalid, role, ch.Name, len(ch.Ports))
			}
			for _, p := range ch.Ports {
				if strings.TrimSpace(p) == "" {
					return fmt.Errorf("%w: %s channel %q has an empty port name", ErrInvalid, role, ch.Name)
				}
				if owner, dup := ports[p]; dup {
					return fmt.Errorf("%w: %s channel %q reuses port %q already used by %s", ErrInvalid, role, ch.Name, p, owner)
				}
				ports[p] = fmt.Sprintf("%s channel %q", role, ch.Name)
			}
			if ch.VolumeDB != nil && (math.IsNaN(*ch.VolumeDB) || math.IsInf(*ch.VolumeDB, 0)) {
				return fmt.Errorf("%w: %s channel %q has non-finite volume_db", ErrInvalid, role, ch.Name)
			}
		}
		return nil
	}
	if err := check("input", c.Inputs); err != nil {
		return err
	}
	return check("output", c.Outputs)
}

// MixerConfig converts the session into engine channel specs. Stored volumes
// are clamped and quantized by the engine.
func (c *Config) MixerConfig() mixer.Config {
	return mixer.Config{
		Inputs:  specs(c.Inputs),
		Outputs: specs(c.Outputs),
	}
}

// PortNames returns the input and output port names in engine buffer order,
// for opening the host before the engine exists.
func (c *Config) PortNames() (inputs, outputs []string) {
	flatten := func(list []Channel) []string {
		var names []string
		for _, ch := range list {
			names = append(names, ch.Ports...)
		}
		return names
	}
	return flatten(c.Inputs), flatten(c.Outputs)
}

func specs(list []Channel) []mixer.ChannelSpec {
	out := make([]mixer.ChannelSpec, 0, len(list))
	for _, ch := range list {
		spec := mixer.ChannelSpec{
			Name:   ch.Name,
			Ports:  append([]string(nil), ch.Ports...),
			GainDB: mixer.DefaultGainDB,
		}
		if ch.VolumeDB != nil {
			spec.GainDB = float32(*ch.VolumeDB)
		}
		out = append(out, spec)
	}
	return out
}

// UpdateVolumes writes final channel gains back. States are indexed by
// channel id: inputs first, then outputs.
func (c *Config) UpdateVolumes(states []mixer.ChannelState) {
	for _, st := range states {
		id := int(st.ID)
		vol := float64(st.GainDB)
		switch {
		case id < 0:
		case id < len(c.Inputs):
			c.Inputs[id].VolumeDB = &vol
		case id < len(c.Inputs)+len(c.Outputs):
			c.Outputs[id-len(c.Inputs)].VolumeDB = &vol
		}
	}
}

// Encode serializes the config in the given format.
func (c *Config) Encode(format string) ([]byte, error) {
	switch format {
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return yaml.Marshal(c)
	}
}

// Save writes the config back to its path, replacing the file atomically.
func (c *Config) Save() error {
	if c.path == "" {
		return nil
	}
	data, err := c.Encode(formatOf(c.path))
	if err != nil {
		return fmt.Errorf("serialize config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".mixer-*.tmp")
	if err != nil {
		return fmt.Errorf("write config %s: %w", c.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write config %s: %w", c.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config %s: %w", c.path, err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("write config %s: %w", c.path, err)
	}
	return nil
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}
