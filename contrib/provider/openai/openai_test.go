package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	errorskg "github.com/sweetpotato0/toolchat/errors"
	"github.com/sweetpotato0/toolchat/message"
)

func TestGetCompletion(t *testing.T) {
	var (
		body map[string]any
		path string
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello from openai"}}]}`)
	}))
	defer srv.Close()

	p := New(DefaultConfig().WithAPIKey("key").WithBaseURL(srv.URL).WithModel("gpt-test").
		WithParameters(map[string]any{"temperature": 0.1, "max_tokens": 64}))

	out, err := p.GetCompletion(context.Background(), []*message.Message{
		message.NewMessage(message.RoleSystem, "sys"),
		message.NewMessage(message.RoleUser, "hi"),
		message.NewMessage(message.RoleAssistant, "calling"),
		message.NewMessage(message.RoleToolResult, "Tool execution result: 1"),
	})
	require.NoError(t, err)
	require.Equal(t, "hello from openai", out)

	require.True(t, strings.HasSuffix(path, "/chat/completions"), path)
	require.Equal(t, "Bearer key", auth)
	require.Equal(t, "gpt-test", body["model"])
	require.Equal(t, 0.1, body["temperature"])
	require.Equal(t, float64(64), body["max_completion_tokens"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 4)
	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = m.(map[string]any)["role"].(string)
	}
	require.Equal(t, []string{"system", "user", "assistant", "system"}, roles)
}

func TestGetCompletionAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad request","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	p := New(DefaultConfig().WithAPIKey("key").WithBaseURL(srv.URL))
	_, err := p.GetCompletion(context.Background(), []*message.Message{message.NewMessage(message.RoleUser, "hi")})

	var merr *errorskg.ModelRequestError
	require.ErrorAs(t, err, &merr)
	require.Equal(t, http.StatusBadRequest, merr.StatusCode)
	require.Equal(t, "gpt-4o-mini", merr.Model)
}

func TestGetCompletionNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	}))
	defer srv.Close()

	_, err := New(DefaultConfig().WithBaseURL(srv.URL)).GetCompletion(context.Background(), nil)
	var merr *errorskg.ModelRequestError
	require.ErrorAs(t, err, &merr)
}
