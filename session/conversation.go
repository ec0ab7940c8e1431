package session

import (
	"sync"
	"time"

	"github.com/sweetpotato0/toolchat/message"
)

// Conversation is the ordered message history of one dialogue. The first
// message, when present and of role system, is the tool prompt.
type Conversation struct {
	id        string
	mu        sync.Mutex
	createdAt time.Time
	updatedAt time.Time
	messages  []*message.Message
}

// NewConversation creates an empty conversation with the supplied identifier.
func NewConversation(id string) *Conversation {
	now := time.Now()
	return &Conversation{
		id:        id,
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// SetSystem replaces the leading system message, or prepends one.
func (c *Conversation) SetSystem(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := message.NewMessage(message.RoleSystem, content)
	if len(c.messages) > 0 && c.messages[0].Role == message.RoleSystem {
		c.messages[0] = msg
	} else {
		c.messages = append([]*message.Message{msg}, c.messages...)
	}
	c.updatedAt = time.Now()
}

// Append adds a message to the end of the history.
func (c *Conversation) Append(msg *message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	c.updatedAt = time.Now()
}

// Messages returns a copy of the conversation history.
func (c *Conversation) Messages() []*message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return message.CloneMessages(c.messages)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Reset drops the history and starts a new dialogue under id.
func (c *Conversation) Reset(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.id = id
	c.messages = nil
	c.createdAt = now
	c.updatedAt = now
}

// Record snapshots the conversation for storage.
func (c *Conversation) Record() *Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Record{
		ID:        c.id,
		Messages:  message.CloneMessages(c.messages),
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
}

// Restore replaces the conversation with a stored transcript.
func (c *Conversation) Restore(rec *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = rec.ID
	c.messages = message.CloneMessages(rec.Messages)
	c.createdAt = rec.CreatedAt
	c.updatedAt = rec.UpdatedAt
}
