// Package realtime fans store mutations out to connected observers.
//
// The Hub is an in-process registry of subscribers keyed by conversation,
// plus a global feed for the conversation list. It keeps no history: an
// observer that was not subscribed when an event was published never sees
// it and must re-fetch state. A Relay carries events between processes
// through a broker so that every process's Hub sees every write.
package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"

	"smsinbox/internal/models"
)

// EventType names the kind of mutation
type EventType string

const (
	MessageCreated      EventType = "message.created"
	MessageUpdated      EventType = "message.updated"
	ConversationCreated EventType = "conversation.created"
	ConversationUpdated EventType = "conversation.updated"
)

// Event is one committed write
type Event struct {
	ID             string               `json:"id"`
	Type           EventType            `json:"type"`
	ConversationID string               `json:"conversation_id"`
	Message        *models.Message      `json:"message,omitempty"`
	Conversation   *models.Conversation `json:"conversation,omitempty"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

// Publisher accepts committed writes
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NewMessageEvent builds a message.created or message.updated event
func NewMessageEvent(eventType EventType, m *models.Message) Event {
	return Event{
		ID:             uuid.NewString(),
		Type:           eventType,
		ConversationID: m.ConversationID,
		Message:        m,
		OccurredAt:     time.Now().UTC(),
	}
}

// NewConversationEvent builds a conversation.created or conversation.updated event
func NewConversationEvent(eventType EventType, c *models.Conversation) Event {
	return Event{
		ID:             uuid.NewString(),
		Type:           eventType,
		ConversationID: c.ID,
		Conversation:   c,
		OccurredAt:     time.Now().UTC(),
	}
}
