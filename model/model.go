// Package model abstracts remote completion endpoints behind a single call.
package model

import (
	"context"

	"github.com/sweetpotato0/toolchat/message"
)

// Client returns the assistant's reply to a message history. Failures are
// reported as *errors.ModelRequestError.
type Client interface {
	GetCompletion(ctx context.Context, history []*message.Message) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, history []*message.Message) (string, error)

// GetCompletion calls f.
func (f ClientFunc) GetCompletion(ctx context.Context, history []*message.Message) (string, error) {
	return f(ctx, history)
}

// WireMessage is the {role, content} shape sent to completion endpoints.
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// WireRole maps a history role onto the roles completion endpoints accept.
// Tool results travel as system messages.
func WireRole(role message.Role) string {
	if role == message.RoleToolResult {
		return string(message.RoleSystem)
	}
	return string(role)
}

// WireMessages converts a history for the wire.
func WireMessages(history []*message.Message) []WireMessage {
	out := make([]WireMessage, 0, len(history))
	for _, msg := range history {
		if msg == nil {
			continue
		}
		out = append(out, WireMessage{Role: WireRole(msg.Role), Content: msg.Content})
	}
	return out
}
