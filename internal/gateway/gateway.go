// Package gateway talks to the SMS provider: outbound sends, status
// lookups, and authentication and parsing of inbound callbacks.
package gateway

import (
	"context"
	"fmt"
	"time"
)

// Config is the provider account used for every request. It is built once
// at start-up and passed to whatever needs it.
type Config struct {
	BaseURL            string
	APIKey             string
	FromNumber         string
	MessagingProfileID string
	Timeout            time.Duration
}

// SendResult is the provider's acknowledgement of an accepted send
type SendResult struct {
	MessageID string
	Status    string
	Latency   time.Duration
}

// Status is the provider's view of an outbound message
type Status struct {
	MessageID   string
	Status      string
	CompletedAt *time.Time
	Errors      []string
}

// Sender is implemented by the real client and the simulator
type Sender interface {
	Send(ctx context.Context, to, text string) (*SendResult, error)
	MessageStatus(ctx context.Context, messageID string) (*Status, error)
	From() string
}

// Error describes a rejected or timed out provider call
type Error struct {
	StatusCode int
	Timeout    bool
	Detail     string
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("gateway timeout: %s", e.Detail)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("gateway error: %s", e.Detail)
}
