// Package session holds conversation state and drives tool-augmented turns
// against a model and the tool providers.
package session

import (
	"context"
	"maps"
	"time"

	"github.com/sweetpotato0/toolchat/message"
)

// Record is the serializable transcript of one conversation.
type Record struct {
	ID        string             `json:"id"`
	Model     string             `json:"model,omitempty"`
	Messages  []*message.Message `json:"messages"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Clone returns a deep copy of the record's messages and a shallow copy of
// its metadata.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Messages = message.CloneMessages(r.Messages)
	cloned.Metadata = maps.Clone(r.Metadata)
	return &cloned
}

// Store defines the interface for transcript storage backends. Load returns
// an error wrapping errors.ErrNotFound for unknown ids.
type Store interface {
	Save(ctx context.Context, record *Record) error
	Load(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
	Exists(ctx context.Context, id string) (bool, error)
}
