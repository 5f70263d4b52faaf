package chat

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type MessageStatus string

const (
	MessageStatusPending    MessageStatus = "pending"
	MessageStatusProcessing MessageStatus = "processing"
	// Searching is an optional sub-state of processing signaling an active
	// retrieval step; collaborators enter and leave it through the message
	// store, the stream processor treats it like processing.
	MessageStatusSearching MessageStatus = "searching"
	MessageStatusSuccess   MessageStatus = "success"
	MessageStatusError     MessageStatus = "error"
)

// Terminal reports whether the status freezes the message's block list.
func (s MessageStatus) Terminal() bool {
	return s == MessageStatusSuccess || s == MessageStatusError
}

type (
	MessageID string
	TopicID   string
)

func NewMessageID() MessageID { return MessageID(uuid.NewString()) }
func NewTopicID() TopicID     { return TopicID(uuid.NewString()) }

// Message is a single entry in a topic. Its BlockIDs list is the render
// order of its blocks; every id must resolve in the block store.
type Message struct {
	ID      MessageID     `json:"id" yaml:"id"`
	TopicID TopicID       `json:"topicID" yaml:"topicID"`
	Role    Role          `json:"role" yaml:"role"`
	Status  MessageStatus `json:"status" yaml:"status"`
	// AskID references the user message an assistant message responds to.
	AskID     MessageID `json:"askID,omitempty" yaml:"askID,omitempty"`
	BlockIDs  []BlockID `json:"blocks" yaml:"blocks"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

type MessageOption func(*Message)

func WithMessageID(id MessageID) MessageOption {
	return func(m *Message) { m.ID = id }
}

func WithMessageStatus(status MessageStatus) MessageOption {
	return func(m *Message) { m.Status = status }
}

func WithBlockIDs(ids ...BlockID) MessageOption {
	return func(m *Message) { m.BlockIDs = ids }
}

func WithMessageCreatedAt(t time.Time) MessageOption {
	return func(m *Message) {
		m.CreatedAt = t
		m.UpdatedAt = t
	}
}

func NewMessage(topicID TopicID, role Role, options ...MessageOption) *Message {
	now := time.Now()
	ret := &Message{
		ID:        NewMessageID(),
		TopicID:   topicID,
		Role:      role,
		Status:    MessageStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func NewUserMessage(topicID TopicID, options ...MessageOption) *Message {
	return NewMessage(topicID, RoleUser, options...)
}

// NewAssistantMessage creates the assistant response stub for the user
// message identified by askID. It starts out pending with no blocks.
func NewAssistantMessage(topicID TopicID, askID MessageID, options ...MessageOption) *Message {
	ret := NewMessage(topicID, RoleAssistant, options...)
	ret.AskID = askID
	return ret
}

func (m *Message) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", string(m.ID)).
		Str("topic_id", string(m.TopicID)).
		Str("role", string(m.Role)).
		Str("status", string(m.Status)).
		Int("num_blocks", len(m.BlockIDs))
	if m.AskID != "" {
		e.Str("ask_id", string(m.AskID))
	}
}

// Topic is the persisted shape of a conversation thread: an ordered list of
// messages under a stable id.
type Topic struct {
	ID       TopicID    `json:"id" yaml:"id"`
	Name     string     `json:"name,omitempty" yaml:"name,omitempty"`
	Messages []*Message `json:"messages" yaml:"messages"`
}
