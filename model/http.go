package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"time"

	errorskg "github.com/sweetpotato0/toolchat/errors"
	"github.com/sweetpotato0/toolchat/message"
	"github.com/sweetpotato0/toolchat/pkg/logging"
)

// DefaultTimeout bounds a single completion request.
const DefaultTimeout = 60 * time.Second

const maxErrorBody = 4 << 10

// Config describes one model endpoint and how to talk to it.
type Config struct {
	ModelID    string
	BaseURL    string
	APIKey     string
	Parameters map[string]any

	// Headers and RequestFormat are templates; nil selects the defaults.
	Headers       map[string]string
	RequestFormat any
	// ContentPath locates the reply in the response body; empty selects
	// DefaultContentPath.
	ContentPath string

	Timeout time.Duration
}

// TemplateClient posts the history to an HTTP endpoint using a configurable
// request and response mapping.
type TemplateClient struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// Option configures a TemplateClient.
type Option func(*TemplateClient)

// WithHTTPClient replaces the HTTP client. Its timeout is left untouched.
func WithHTTPClient(client *http.Client) Option {
	return func(c *TemplateClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *TemplateClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewTemplateClient creates a client for cfg.
func NewTemplateClient(cfg Config, opts ...Option) *TemplateClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ContentPath == "" {
		cfg.ContentPath = DefaultContentPath
	}
	cfg.Parameters = maps.Clone(cfg.Parameters)
	c := &TemplateClient{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.WithComponent("model").With("model", cfg.ModelID),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// ModelID returns the configured model id.
func (c *TemplateClient) ModelID() string { return c.config.ModelID }

// GetCompletion implements Client.
func (c *TemplateClient) GetCompletion(ctx context.Context, history []*message.Message) (string, error) {
	if c.config.BaseURL == "" {
		return "", c.fail(0, "", errors.New("missing base_url"))
	}

	payload := buildPayload(c.config.RequestFormat, c.config.ModelID, WireMessages(history), c.config.Parameters)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", c.fail(0, "", fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", c.fail(0, "", fmt.Errorf("create request: %w", err))
	}
	for k, v := range buildHeaders(c.config.Headers, c.config.APIKey) {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", c.fail(0, "", fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.fail(resp.StatusCode, "", fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(respBody)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return "", c.fail(resp.StatusCode, snippet, fmt.Errorf("unexpected status %s", resp.Status))
	}

	content, err := ExtractContent(respBody, c.config.ContentPath)
	if err != nil {
		return "", c.fail(resp.StatusCode, "", err)
	}

	c.logger.Debug("completion received", "duration_ms", time.Since(start).Milliseconds(), "bytes", len(respBody))
	return content, nil
}

func (c *TemplateClient) fail(status int, body string, err error) error {
	c.logger.Error("completion request failed", "status", status, "error", err)
	if body != "" {
		c.logger.Debug("completion error body", "body", body)
	}
	return &errorskg.ModelRequestError{Model: c.config.ModelID, StatusCode: status, Body: body, Err: err}
}
