package model

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	errorskg "github.com/sweetpotato0/toolchat/errors"
	"github.com/sweetpotato0/toolchat/message"
)

func history() []*message.Message {
	return []*message.Message{
		message.NewMessage(message.RoleSystem, "sys"),
		message.NewMessage(message.RoleUser, "hi"),
		message.NewMessage(message.RoleAssistant, `{"tool":"add","arguments":{}}`),
		message.NewMessage(message.RoleToolResult, "Tool execution result: 5"),
	}
}

type captured struct {
	headers http.Header
	body    map[string]any
}

func newServer(t *testing.T, status int, response string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		got.headers = r.Header.Clone()
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &got.body))
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestWireMessagesMapToolResultToSystem(t *testing.T) {
	wire := WireMessages(history())
	require.Len(t, wire, 4)
	require.Equal(t, []string{"system", "user", "assistant", "system"},
		[]string{wire[0].Role, wire[1].Role, wire[2].Role, wire[3].Role})
	require.Equal(t, "Tool execution result: 5", wire[3].Content)
}

func TestDefaultTemplate(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{"output":{"choices":[{"message":{"content":"hello"}}]}}`)

	client := NewTemplateClient(Config{
		ModelID:    "qwen-max",
		BaseURL:    srv.URL,
		APIKey:     "secret",
		Parameters: map[string]any{"temperature": 0.5},
	})

	out, err := client.GetCompletion(context.Background(), history())
	require.NoError(t, err)
	require.Equal(t, "hello", out)

	require.Equal(t, "Bearer secret", got.headers.Get("Authorization"))
	require.Equal(t, "application/json", got.headers.Get("Content-Type"))

	require.Equal(t, "qwen-max", got.body["model"])
	require.Equal(t, map[string]any{"temperature": 0.5}, got.body["parameters"])
	input := got.body["input"].(map[string]any)
	msgs := input["messages"].([]any)
	require.Len(t, msgs, 4)
	require.Equal(t, map[string]any{"role": "system", "content": "Tool execution result: 5"}, msgs[3])
}

func TestCustomTemplate(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{"choices":[{"message":{"content":"custom reply"}}]}`)

	client := NewTemplateClient(Config{
		ModelID:    "gpt-x",
		BaseURL:    srv.URL,
		APIKey:     "k1",
		Parameters: map[string]any{"temperature": 0.2, "max_tokens": 128},
		Headers: map[string]string{
			"X-Api-Key":    "{api_key}",
			"Content-Type": "application/json",
			"X-Static":     "prefix-{api_key}-suffix",
		},
		RequestFormat: map[string]any{
			"model":       "{model_id}",
			"messages":    "{messages}",
			"temperature": "{temperature}",
			"limits":      []any{"{max_tokens}", "{unknown}", 3},
			"all":         "{parameters}",
			"stream":      false,
		},
		ContentPath: "choices[0].message.content",
	})

	out, err := client.GetCompletion(context.Background(), history()[:2])
	require.NoError(t, err)
	require.Equal(t, "custom reply", out)

	require.Equal(t, "k1", got.headers.Get("X-Api-Key"))
	require.Equal(t, "prefix-k1-suffix", got.headers.Get("X-Static"))
	require.Empty(t, got.headers.Get("Authorization"))

	require.Equal(t, "gpt-x", got.body["model"])
	require.Equal(t, 0.2, got.body["temperature"])
	require.Equal(t, []any{float64(128), "{unknown}", float64(3)}, got.body["limits"])
	require.Equal(t, map[string]any{"temperature": 0.2, "max_tokens": float64(128)}, got.body["all"])
	require.Equal(t, false, got.body["stream"])
	require.Len(t, got.body["messages"], 2)
}

func TestGetCompletionErrors(t *testing.T) {
	t.Run("missing base url", func(t *testing.T) {
		_, err := NewTemplateClient(Config{ModelID: "m"}).GetCompletion(context.Background(), history())
		var merr *errorskg.ModelRequestError
		require.ErrorAs(t, err, &merr)
		require.Equal(t, "m", merr.Model)
		require.Zero(t, merr.StatusCode)
		require.Contains(t, err.Error(), "base_url")
	})

	t.Run("non 2xx", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusUnauthorized, `{"error":"bad key"}`)
		_, err := NewTemplateClient(Config{ModelID: "m", BaseURL: srv.URL}).GetCompletion(context.Background(), history())
		var merr *errorskg.ModelRequestError
		require.ErrorAs(t, err, &merr)
		require.Equal(t, http.StatusUnauthorized, merr.StatusCode)
		require.Contains(t, merr.Body, "bad key")
	})

	t.Run("missing path", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusOK, `{"choices":[]}`)
		_, err := NewTemplateClient(Config{ModelID: "m", BaseURL: srv.URL}).GetCompletion(context.Background(), history())
		var merr *errorskg.ModelRequestError
		require.ErrorAs(t, err, &merr)
		require.Contains(t, err.Error(), "not found")
	})

	t.Run("invalid json", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusOK, `not json`)
		_, err := NewTemplateClient(Config{ModelID: "m", BaseURL: srv.URL}).GetCompletion(context.Background(), history())
		var merr *errorskg.ModelRequestError
		require.ErrorAs(t, err, &merr)
	})

	t.Run("network failure", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		_, err := NewTemplateClient(Config{ModelID: "m", BaseURL: url}).GetCompletion(context.Background(), history())
		var merr *errorskg.ModelRequestError
		require.ErrorAs(t, err, &merr)
		require.Zero(t, merr.StatusCode)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		client := NewTemplateClient(Config{ModelID: "m", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
		_, err := client.GetCompletion(context.Background(), history())
		var merr *errorskg.ModelRequestError
		require.ErrorAs(t, err, &merr)
	})
}

func TestExtractContent(t *testing.T) {
	body := []byte(`{
		"output": {"choices": [{"message": {"content": "first"}}, {"message": {"content": "second"}}]},
		"nested": [[1, 2], [3, {"x": "deep"}]],
		"obj": {"a": 1},
		"weird.key": {"v": "dotted"},
		"star*": "escaped"
	}`)

	cases := []struct {
		path string
		want string
	}{
		{DefaultContentPath, "first"},
		{"output.choices[1].message.content", "second"},
		{"nested[1][1].x", "deep"},
		{"nested[0][1]", "2"},
		{"obj", `{"a": 1}`},
		{"star*", "escaped"},
	}
	for _, tc := range cases {
		got, err := ExtractContent(body, tc.path)
		require.NoError(t, err, tc.path)
		require.Equal(t, tc.want, got, tc.path)
	}

	for _, bad := range []string{"", "output.choices[5].message.content", "output..x", "choices[a]", "choices[0"} {
		_, err := ExtractContent(body, bad)
		require.Error(t, err, bad)
	}
}

func TestToGJSONPath(t *testing.T) {
	got, err := toGJSONPath("choices[0].message.content")
	require.NoError(t, err)
	require.Equal(t, "choices.0.message.content", got)

	got, err = toGJSONPath("a[1][2]")
	require.NoError(t, err)
	require.Equal(t, "a.1.2", got)

	got, err = toGJSONPath("what?")
	require.NoError(t, err)
	require.Equal(t, `what\?`, got)
}

func TestClientFunc(t *testing.T) {
	var c Client = ClientFunc(func(_ context.Context, h []*message.Message) (string, error) {
		return h[len(h)-1].Content, nil
	})
	out, err := c.GetCompletion(context.Background(), history())
	require.NoError(t, err)
	require.Equal(t, "Tool execution result: 5", out)
}
