package agent

import (
	"sync"

	"github.com/harun/hostpilot/internal/tracing"
)

// Conversation is the in-memory message history of one chat. Runs on the
// same conversation are serialized.
type Conversation struct {
	id string

	run sync.Mutex

	mu       sync.RWMutex
	messages []Message
}

// NewConversation creates an empty conversation. An empty id gets a fresh one.
func NewConversation(id string) *Conversation {
	if id == "" {
		id = tracing.NewRunID()
	}
	return &Conversation{id: id}
}

// ID returns the conversation id.
func (c *Conversation) ID() string {
	return c.id
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Message(nil), c.messages...)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Reset drops the history.
func (c *Conversation) Reset() {
	c.mu.Lock()
	c.messages = nil
	c.mu.Unlock()
}

func (c *Conversation) append(msgs ...Message) {
	c.mu.Lock()
	c.messages = append(c.messages, msgs...)
	c.mu.Unlock()
}
