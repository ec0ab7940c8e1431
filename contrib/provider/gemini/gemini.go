package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	errorskg "github.com/sweetpotato0/toolchat/errors"
	"github.com/sweetpotato0/toolchat/message"
	"github.com/sweetpotato0/toolchat/model"
)

var _ model.Client = (*Provider)(nil)

// Config holds Gemini provider configuration
type Config struct {
	APIKey      string
	Endpoint    string
	Model       string
	MaxTokens   int32
	Temperature float32
}

// DefaultConfig returns default Gemini configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "gemini-1.5-flash",
		MaxTokens:   2048,
		Temperature: 0.7,
	}
}

// WithParameters applies catalog parameters. Only temperature and
// max_tokens are understood.
func (cfg *Config) WithParameters(params map[string]any) *Config {
	if v, ok := toFloat(params["temperature"]); ok {
		cfg.Temperature = float32(v)
	}
	if v, ok := toFloat(params["max_tokens"]); ok {
		cfg.MaxTokens = int32(v)
	}
	return cfg
}

// Provider implements model.Client on the Google generative AI SDK.
type Provider struct {
	config *Config
	client *genai.Client
}

// New creates a Gemini provider. The SDK client connects lazily.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Model == "" {
		config.Model = "gemini-1.5-flash"
	}

	opts := []option.ClientOption{option.WithAPIKey(config.APIKey)}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Provider{config: config, client: client}, nil
}

// GetCompletion implements model.Client.
func (p *Provider) GetCompletion(ctx context.Context, history []*message.Message) (string, error) {
	system, contents := buildContents(history)
	if len(contents) == 0 {
		return "", &errorskg.ModelRequestError{Model: p.config.Model, Err: fmt.Errorf("no messages to send: %w", errorskg.ErrInvalidInput)}
	}

	gm := p.client.GenerativeModel(p.config.Model)
	if system != nil {
		gm.SystemInstruction = system
	}
	if p.config.Temperature > 0 {
		gm.SetTemperature(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		gm.SetMaxOutputTokens(p.config.MaxTokens)
	}

	chat := gm.StartChat()
	last := contents[len(contents)-1]
	chat.History = contents[:len(contents)-1]

	resp, err := chat.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", &errorskg.ModelRequestError{Model: p.config.Model, StatusCode: statusCode(err), Err: err}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &errorskg.ModelRequestError{Model: p.config.Model, Err: fmt.Errorf("no candidates in response")}
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

// Close releases the SDK client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// buildContents folds system messages into one instruction and maps the rest
// onto the user and model roles. Tool results are sent as user turns.
func buildContents(history []*message.Message) (*genai.Content, []*genai.Content) {
	var (
		systemParts []genai.Part
		contents    []*genai.Content
	)
	for _, msg := range history {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case message.RoleSystem:
			systemParts = append(systemParts, genai.Text(msg.Content))
		case message.RoleUser, message.RoleToolResult:
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		case message.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}
	var system *genai.Content
	if len(systemParts) > 0 {
		system = &genai.Content{Parts: systemParts}
	}
	return system, contents
}

func statusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return 401
	case codes.ResourceExhausted:
		return 429
	case codes.InvalidArgument:
		return 400
	case codes.NotFound:
		return 404
	case codes.Unavailable:
		return 503
	}
	return 0
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
