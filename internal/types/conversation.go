package types

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MessageRole represents the role of a message sender.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// SystemMessageID marks a system directive. Such messages only steer a single
// completion call and are never stored with the transcript.
const SystemMessageID = "-1"

// Message represents a single utterance in a conversation.
//
// User message IDs are assigned by the chat transport. Assistant message IDs are
// the ID of the reply slot the message fills.
type Message struct {
	ID             string      `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`
}

// NewSystemMessage builds a directive for one completion call.
func NewSystemMessage(content string) Message {
	return Message{
		ID:        SystemMessageID,
		Role:      RoleSystem,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Conversation is an ordered transcript owned by one chat.
//
// Title and messages are guarded by a mutex: the detached title task and the
// idle timer read and write them outside the request that owns the conversation.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	ChatID    string    `json:"chat_id"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	mu       sync.RWMutex
	title    *string
	messages []Message
}

// NewConversation creates a conversation from stored or freshly created values.
func NewConversation(id uuid.UUID, chatID string, title *string, startedAt time.Time, messages []Message) *Conversation {
	c := &Conversation{
		ID:        id,
		ChatID:    chatID,
		StartedAt: startedAt,
		UpdatedAt: startedAt,
		title:     title,
	}
	c.messages = append(c.messages, messages...)
	return c
}

// Title returns the conversation title, or nil while it is unset.
func (c *Conversation) Title() *string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.title == nil {
		return nil
	}
	t := *c.title
	return &t
}

// TitleOr returns the title, or fallback while the conversation is untitled.
func (c *Conversation) TitleOr(fallback string) string {
	if t := c.Title(); t != nil {
		return *t
	}
	return fallback
}

// SetTitle assigns the title if none is set yet. It reports whether the title
// was assigned.
func (c *Conversation) SetTitle(title string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.title != nil {
		return false
	}
	c.title = &title
	return true
}

// NeedsTitle reports whether the conversation is still eligible for titling.
func (c *Conversation) NeedsTitle() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.title == nil && len(c.messages) < 3
}

// Messages returns a copy of the transcript.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages in the transcript.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Append adds a message to the end of the transcript.
func (c *Conversation) Append(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg.ConversationID = c.ID
	c.messages = append(c.messages, msg)
	c.UpdatedAt = time.Now().UTC()
}

// LastMessage returns the final message, or nil for an empty transcript.
func (c *Conversation) LastMessage() *Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.messages) == 0 {
		return nil
	}
	m := c.messages[len(c.messages)-1]
	return &m
}

// SetContent replaces the content of the message with the given ID. It reports
// whether such a message exists.
func (c *Conversation) SetContent(id, content string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == id {
			c.messages[i].Content = content
			return true
		}
	}
	return false
}

// RemoveLast drops the final message if it has the given role and returns it.
func (c *Conversation) RemoveLast(role MessageRole) *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 || c.messages[len(c.messages)-1].Role != role {
		return nil
	}
	m := c.messages[len(c.messages)-1]
	c.messages = c.messages[:len(c.messages)-1]
	return &m
}

// ConversationMode is a named system-instruction preset selectable per chat.
type ConversationMode struct {
	ID        uuid.UUID `json:"id"`
	ChatID    string    `json:"chat_id"`
	Title     string    `json:"title"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

// Sort columns accepted by ListOptions.
const (
	OrderByStartedAt = "started_at"
	OrderByUpdatedAt = "updated_at"
)

// ListOptions controls pagination and sorting of conversation listings.
type ListOptions struct {
	Skip    int
	Take    int
	OrderBy string
	Desc    bool
}
