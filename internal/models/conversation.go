package models

import "time"

// Conversation is the thread of messages with one counterparty number
type Conversation struct {
	ID            string     `json:"id" db:"id"`
	PhoneNumber   string     `json:"phone_number" db:"phone_number"`
	Name          *string    `json:"name,omitempty" db:"name"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	LastReadAt    *time.Time `json:"last_read_at,omitempty" db:"last_read_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// DisplayName returns the contact name if set, otherwise the phone number
func (c *Conversation) DisplayName() string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	return c.PhoneNumber
}

// ConversationSummary is a conversation as shown in the inbox list
type ConversationSummary struct {
	Conversation
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}

// HasUnread reports whether inbound messages arrived after the last read marker
func (s *ConversationSummary) HasUnread() bool {
	return s.UnreadCount > 0
}
