package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	errorskg "github.com/sweetpotato0/toolchat/errors"
	"github.com/sweetpotato0/toolchat/message"
	"github.com/sweetpotato0/toolchat/model"
)

var _ model.Client = (*Provider)(nil)

// Config holds Claude provider configuration
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns default Claude configuration
func DefaultConfig(apiKey, baseURL string) *Config {
	return &Config{
		APIKey:      apiKey,
		BaseURL:     baseURL,
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// WithParameters applies catalog parameters. Only temperature and
// max_tokens are understood.
func (cfg *Config) WithParameters(params map[string]any) *Config {
	if v, ok := toFloat(params["temperature"]); ok {
		cfg.Temperature = v
	}
	if v, ok := toFloat(params["max_tokens"]); ok {
		cfg.MaxTokens = int64(v)
	}
	return cfg
}

// Provider implements model.Client on the official Anthropic SDK.
type Provider struct {
	config *Config
	client anthropic.Client
}

// New creates a new Claude provider using official SDK
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig("", "")
	}
	if config.Model == "" {
		config.Model = "claude-sonnet-4-5-20250929"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}

	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithAuthToken(""),
		option.WithMaxRetries(0),
	}

	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	client := anthropic.NewClient(options...)

	return &Provider{
		config: config,
		client: client,
	}
}

// GetCompletion implements model.Client. System messages are lifted into
// the system prompt; tool results are sent as user turns since the Messages
// API has no system role inside the conversation.
func (p *Provider) GetCompletion(ctx context.Context, history []*message.Message) (string, error) {
	var systemPrompts []string
	conversationMessages := make([]anthropic.MessageParam, 0, len(history))

	for _, msg := range history {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case message.RoleSystem:
			systemPrompts = append(systemPrompts, msg.Content)
		case message.RoleUser, message.RoleToolResult:
			conversationMessages = append(conversationMessages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case message.RoleAssistant:
			conversationMessages = append(conversationMessages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		Messages:  conversationMessages,
		MaxTokens: p.config.MaxTokens,
	}
	if len(systemPrompts) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(systemPrompts, "\n")},
		}
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}

	apiMessage, err := p.client.Messages.New(ctx, params)
	if err != nil {
		reqErr := &errorskg.ModelRequestError{Model: p.config.Model, Err: err}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			reqErr.StatusCode = apiErr.StatusCode
		}
		return "", reqErr
	}

	var parts []string
	for _, content := range apiMessage.Content {
		if content.Type == "text" {
			parts = append(parts, content.Text)
		}
	}
	if len(parts) == 0 {
		return "", &errorskg.ModelRequestError{Model: p.config.Model, Err: fmt.Errorf("no text content returned from Claude")}
	}
	return strings.Join(parts, ""), nil
}

// SetTemperature updates the temperature setting
func (p *Provider) SetTemperature(temp float64) {
	p.config.Temperature = temp
}

// SetMaxTokens updates the max tokens setting
func (p *Provider) SetMaxTokens(max int64) {
	p.config.MaxTokens = max
}

// SetModel updates the model
func (p *Provider) SetModel(model string) {
	p.config.Model = model
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
