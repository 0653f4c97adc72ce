package models

import "time"

// MessageStatus represents valid message statuses
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusReceived  MessageStatus = "received"
)

// Direction tells whether a message left or arrived at the operator's number
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// transitions lists the statuses reachable from each status. Skipping
// forward is allowed (pending -> delivered) and terminal states map to nothing.
var transitions = map[MessageStatus][]MessageStatus{
	MessageStatusPending:   {MessageStatusSent, MessageStatusDelivered, MessageStatusFailed},
	MessageStatusSent:      {MessageStatusDelivered, MessageStatusFailed},
	MessageStatusDelivered: nil,
	MessageStatusFailed:    nil,
	MessageStatusReceived:  nil,
}

// Valid reports whether s is a known status
func (s MessageStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transition can leave s
func (s MessageStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether a message may move from one status to another
func CanTransition(from, to MessageStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedSources returns every status from which target can be reached.
// Used to build conditional updates that never regress a message.
func AllowedSources(target MessageStatus) []MessageStatus {
	var sources []MessageStatus
	for _, from := range []MessageStatus{
		MessageStatusPending,
		MessageStatusSent,
		MessageStatusDelivered,
		MessageStatusFailed,
		MessageStatusReceived,
	} {
		if CanTransition(from, target) {
			sources = append(sources, from)
		}
	}
	return sources
}

// Rank orders statuses along the outbound lifecycle so that two views of
// the same message can be merged without moving backwards.
func Rank(s MessageStatus) int {
	switch s {
	case MessageStatusPending:
		return 1
	case MessageStatusSent:
		return 2
	case MessageStatusDelivered, MessageStatusFailed, MessageStatusReceived:
		return 3
	default:
		return 0
	}
}

// Message is one unit of text exchanged with a counterparty
type Message struct {
	ID                string        `json:"id" db:"id"`
	ConversationID    string        `json:"conversation_id" db:"conversation_id"`
	ProviderMessageID *string       `json:"provider_message_id,omitempty" db:"provider_message_id"`
	Direction         Direction     `json:"direction" db:"direction"`
	FromNumber        string        `json:"from_number" db:"from_number"`
	ToNumber          string        `json:"to_number" db:"to_number"`
	Body              string        `json:"body" db:"body"`
	Status            MessageStatus `json:"status" db:"status"`
	ErrorDetail       *string       `json:"error_detail,omitempty" db:"error_detail"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
	DeliveredAt       *time.Time    `json:"delivered_at,omitempty" db:"delivered_at"`
}

// ProviderID returns the gateway id or an empty string
func (m *Message) ProviderID() string {
	if m.ProviderMessageID == nil {
		return ""
	}
	return *m.ProviderMessageID
}

// IsInbound reports whether the message was received from the counterparty
func (m *Message) IsInbound() bool {
	return m.Direction == DirectionInbound
}
