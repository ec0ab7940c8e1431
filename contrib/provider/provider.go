// Package provider builds completion clients from the model catalog.
package provider

import (
	"context"
	"fmt"

	"github.com/sweetpotato0/toolchat/config"
	"github.com/sweetpotato0/toolchat/contrib/provider/claude"
	"github.com/sweetpotato0/toolchat/contrib/provider/gemini"
	"github.com/sweetpotato0/toolchat/contrib/provider/openai"
	errorskg "github.com/sweetpotato0/toolchat/errors"
	"github.com/sweetpotato0/toolchat/model"
)

// NewClientFromCatalog returns the client for modelID, falling back to the
// catalog default when modelID is empty. params replace the model's default
// parameters when non-empty.
func NewClientFromCatalog(cat *config.Catalog, modelID, apiKey string, params map[string]any) (model.Client, error) {
	if cat == nil {
		return nil, &errorskg.ConfigError{Subject: "models", Err: errorskg.ErrInvalidInput}
	}
	id := cat.ResolveModelID(modelID)
	m, ok := cat.Model(id)
	if !ok {
		return nil, &errorskg.ConfigError{Subject: "model " + id, Err: errorskg.ErrNotFound}
	}
	if len(params) == 0 {
		params = m.DefaultParameters
	}

	tmpl := cat.Template(m)
	kind := config.TemplateKindHTTP
	if tmpl != nil && tmpl.Kind != "" {
		kind = tmpl.Kind
	}

	switch kind {
	case config.TemplateKindOpenAI:
		cfg := openai.DefaultConfig().WithAPIKey(apiKey).WithBaseURL(m.BaseURL).WithModel(id)
		return openai.New(cfg.WithParameters(params)), nil
	case config.TemplateKindAnthropic:
		cfg := claude.DefaultConfig(apiKey, m.BaseURL)
		cfg.Model = id
		return claude.New(cfg.WithParameters(params)), nil
	case config.TemplateKindGemini:
		cfg := gemini.DefaultConfig(apiKey)
		cfg.Endpoint = m.BaseURL
		cfg.Model = id
		p, err := gemini.New(context.Background(), cfg.WithParameters(params))
		if err != nil {
			return nil, &errorskg.ConfigError{Subject: "model " + id, Err: err}
		}
		return p, nil
	case config.TemplateKindHTTP:
		cfg := model.Config{
			ModelID:    id,
			BaseURL:    m.BaseURL,
			APIKey:     apiKey,
			Parameters: params,
		}
		if tmpl != nil {
			cfg.Headers = tmpl.Headers
			cfg.RequestFormat = tmpl.RequestFormat
			if tmpl.ResponseFormat != nil {
				cfg.ContentPath = tmpl.ResponseFormat.ContentPath
			}
		}
		return model.NewTemplateClient(cfg), nil
	default:
		return nil, &errorskg.ConfigError{
			Subject: "provider " + m.Provider,
			Err:     fmt.Errorf("unsupported kind %q: %w", kind, errorskg.ErrInvalidInput),
		}
	}
}
