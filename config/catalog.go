package config

import (
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"
)

// Template kinds select which completion client serves a model.
const (
	TemplateKindHTTP      = "http"
	TemplateKindOpenAI    = "openai"
	TemplateKindAnthropic = "anthropic"
	TemplateKindGemini    = "gemini"
)

// ModelConfig is one entry of the model catalog.
type ModelConfig struct {
	ID                string         `yaml:"-"`
	DisplayName       string         `yaml:"display_name"`
	Description       string         `yaml:"description"`
	BaseURL           string         `yaml:"base_url"`
	Provider          string         `yaml:"provider"`
	DefaultParameters map[string]any `yaml:"default_parameters"`
}

// ResponseFormat locates the completion text inside a response body.
type ResponseFormat struct {
	ContentPath string `yaml:"content_path"`
}

// ProviderTemplate maps the message history onto one vendor's HTTP API.
// Header values may contain {api_key}; RequestFormat may contain the
// placeholders {model_id}, {messages}, {parameters} and {<parameter name>}.
type ProviderTemplate struct {
	Kind           string            `yaml:"kind"`
	Headers        map[string]string `yaml:"headers"`
	RequestFormat  any               `yaml:"request_format"`
	ResponseFormat *ResponseFormat   `yaml:"response_format"`
}

// Catalog is the parsed model catalog.
type Catalog struct {
	Models       []ModelConfig
	Providers    map[string]ProviderTemplate
	DefaultModel string
}

type catalogFile struct {
	Models       yaml.Node                   `yaml:"models"`
	Providers    map[string]ProviderTemplate `yaml:"providers"`
	DefaultModel string                      `yaml:"default_model"`
}

// ParseCatalog decodes a model catalog. Models keep their declaration order.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := decode(data, &file); err != nil {
		return nil, err
	}

	cat := &Catalog{
		Providers:    file.Providers,
		DefaultModel: file.DefaultModel,
	}
	err := eachEntry(&file.Models, func(id string, value *yaml.Node) error {
		var m ModelConfig
		if err := value.Decode(&m); err != nil {
			return fmt.Errorf("config: model %q: %w", id, err)
		}
		m.ID = id
		cat.Models = append(cat.Models, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cat, nil
}

// LoadCatalog reads and parses a model catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// Validate checks cross references between models and provider templates,
// the form of each base_url and the range of common sampling parameters.
// A missing base_url is not rejected here; the completion client reports it per request.
func (c *Catalog) Validate() error {
	v := NewValidator()
	if len(c.Models) == 0 {
		v.errors = append(v.errors, ValidationError{Field: "models", Message: "at least one model is required"})
	}
	if c.DefaultModel != "" {
		if _, ok := c.Model(c.DefaultModel); !ok {
			v.errors = append(v.errors, ValidationError{
				Field:   "default_model",
				Message: fmt.Sprintf("model %q is not defined", c.DefaultModel),
			})
		}
	}
	for _, m := range c.Models {
		if m.BaseURL != "" {
			v.ValidateURL("models."+m.ID+".base_url", m.BaseURL)
		}
		for _, r := range parameterRanges {
			if f, ok := asFloat(m.DefaultParameters[r.name]); ok {
				v.ValidateFloatRange("models."+m.ID+".default_parameters."+r.name, f, r.min, r.max)
			}
		}
		if m.Provider == "" {
			continue
		}
		tmpl, ok := c.Providers[m.Provider]
		if !ok {
			v.errors = append(v.errors, ValidationError{
				Field:   "models." + m.ID + ".provider",
				Message: fmt.Sprintf("provider %q is not defined", m.Provider),
			})
			continue
		}
		if tmpl.Kind != "" {
			v.ValidateOneOf("providers."+m.Provider+".kind", tmpl.Kind,
				TemplateKindHTTP, TemplateKindOpenAI, TemplateKindAnthropic, TemplateKindGemini)
		}
	}
	return v.Error()
}

var parameterRanges = []struct {
	name     string
	min, max float64
}{
	{"temperature", 0, 2},
	{"top_p", 0, 1},
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Model looks up a model by id.
func (c *Catalog) Model(id string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			m.DefaultParameters = maps.Clone(m.DefaultParameters)
			return m, true
		}
	}
	return ModelConfig{}, false
}

// Template returns the provider template referenced by m, or nil when the
// model uses the built-in request shape.
func (c *Catalog) Template(m ModelConfig) *ProviderTemplate {
	if m.Provider == "" {
		return nil
	}
	tmpl, ok := c.Providers[m.Provider]
	if !ok {
		return nil
	}
	return &tmpl
}

// ResolveModelID returns id when set, else the default model, else the first model.
func (c *Catalog) ResolveModelID(id string) string {
	if id != "" {
		return id
	}
	if c.DefaultModel != "" {
		return c.DefaultModel
	}
	if len(c.Models) > 0 {
		return c.Models[0].ID
	}
	return ""
}
