package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType is the closed set of callbacks this service acts on
type EventType string

const (
	EventReceived       EventType = "received"
	EventSent           EventType = "sent"
	EventDelivered      EventType = "delivered"
	EventDeliveryFailed EventType = "delivery_failed"
)

var providerEventTypes = map[string]EventType{
	"message.received":        EventReceived,
	"message.sent":            EventSent,
	"message.delivered":       EventDelivered,
	"message.delivery_failed": EventDeliveryFailed,
}

var (
	ErrUnsupportedEvent = errors.New("unsupported event type")
	ErrMalformedEvent   = errors.New("malformed event")
)

// Envelope holds the fields every event carries
type Envelope struct {
	EventID           string
	ProviderMessageID string
	OccurredAt        time.Time
}

// Event is one of Received, Sent, Delivered or DeliveryFailed
type Event interface {
	Type() EventType
	Meta() Envelope
	isEvent()
}

// Received is an inbound message from a counterparty
type Received struct {
	Envelope
	From string
	To   string
	Text string
}

// Sent means the provider handed the message to the carrier
type Sent struct {
	Envelope
}

// Delivered means the carrier confirmed delivery
type Delivered struct {
	Envelope
}

// DeliveryFailed means the message will not be delivered
type DeliveryFailed struct {
	Envelope
	Errors []string
}

func (e Received) Type() EventType       { return EventReceived }
func (e Sent) Type() EventType           { return EventSent }
func (e Delivered) Type() EventType      { return EventDelivered }
func (e DeliveryFailed) Type() EventType { return EventDeliveryFailed }

func (e Received) Meta() Envelope       { return e.Envelope }
func (e Sent) Meta() Envelope           { return e.Envelope }
func (e Delivered) Meta() Envelope      { return e.Envelope }
func (e DeliveryFailed) Meta() Envelope { return e.Envelope }

func (Received) isEvent()       {}
func (Sent) isEvent()           {}
func (Delivered) isEvent()      {}
func (DeliveryFailed) isEvent() {}

// ErrorDetail joins the failure reasons
func (e DeliveryFailed) ErrorDetail() string {
	if len(e.Errors) == 0 {
		return "delivery failed"
	}
	return strings.Join(e.Errors, "; ")
}

type rawEvent struct {
	Data struct {
		EventType  string          `json:"event_type"`
		ID         string          `json:"id"`
		OccurredAt string          `json:"occurred_at"`
		RecordType string          `json:"record_type"`
		Payload    json.RawMessage `json:"payload"`
	} `json:"data"`
}

type rawNumber struct {
	PhoneNumber string `json:"phone_number"`
}

type rawPayload struct {
	ID     string      `json:"id"`
	From   rawNumber   `json:"from"`
	To     []rawNumber `json:"to"`
	Text   string      `json:"text"`
	Errors []apiError  `json:"errors"`
}

// ParseEvent decodes a callback body. Unknown event types and payloads
// missing the fields their type needs are rejected.
func ParseEvent(body []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	eventType, ok := providerEventTypes[raw.Data.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, raw.Data.EventType)
	}

	if len(raw.Data.Payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformedEvent)
	}
	var payload rawPayload
	if err := json.Unmarshal(raw.Data.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedEvent, err)
	}
	if payload.ID == "" {
		return nil, fmt.Errorf("%w: missing payload.id", ErrMalformedEvent)
	}

	env := Envelope{
		EventID:           raw.Data.ID,
		ProviderMessageID: payload.ID,
		OccurredAt:        time.Now().UTC(),
	}
	if raw.Data.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339Nano, raw.Data.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("%w: occurred_at: %v", ErrMalformedEvent, err)
		}
		env.OccurredAt = t
	}

	switch eventType {
	case EventReceived:
		if payload.From.PhoneNumber == "" {
			return nil, fmt.Errorf("%w: missing payload.from.phone_number", ErrMalformedEvent)
		}
		ev := Received{Envelope: env, From: payload.From.PhoneNumber, Text: payload.Text}
		if len(payload.To) > 0 {
			ev.To = payload.To[0].PhoneNumber
		}
		return ev, nil
	case EventSent:
		return Sent{Envelope: env}, nil
	case EventDelivered:
		return Delivered{Envelope: env}, nil
	default:
		ev := DeliveryFailed{Envelope: env}
		for _, e := range payload.Errors {
			ev.Errors = append(ev.Errors, e.describe())
		}
		return ev, nil
	}
}
