package config

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

// ProviderConfig describes how to launch one tool provider subprocess.
type ProviderConfig struct {
	Name    string            `yaml:"-" json:"-"`
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Dir     string            `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// Validate checks the launch spec.
func (c ProviderConfig) Validate() error {
	v := NewValidator()
	v.RequireNonEmpty("name", c.Name)
	v.RequireNonEmpty("command", c.Command)
	v.ValidateEnvKeys("env", c.Env)
	return v.Error()
}

// Environ returns the environment overrides as sorted KEY=VALUE pairs.
func (c ProviderConfig) Environ() []string {
	if len(c.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}

// Clone returns a deep copy so callers cannot mutate a loaded config.
func (c ProviderConfig) Clone() ProviderConfig {
	c.Args = slices.Clone(c.Args)
	c.Env = maps.Clone(c.Env)
	return c
}

type providerFile struct {
	MCPServers yaml.Node `yaml:"mcpServers"`
}

// ParseProviders decodes a provider list of the form
//
//	{"mcpServers": {"<name>": {"command": "...", "args": [...], "env": {...}}}}
//
// Entries are returned in document order. A missing mcpServers key yields an empty list.
func ParseProviders(data []byte) ([]ProviderConfig, error) {
	var file providerFile
	if err := decode(data, &file); err != nil {
		return nil, err
	}

	var providers []ProviderConfig
	err := eachEntry(&file.MCPServers, func(name string, value *yaml.Node) error {
		var cfg ProviderConfig
		if err := value.Decode(&cfg); err != nil {
			return fmt.Errorf("config: provider %q: %w", name, err)
		}
		cfg.Name = name
		providers = append(providers, cfg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return providers, nil
}

// LoadProviders reads and parses a provider list file.
func LoadProviders(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseProviders(data)
}
