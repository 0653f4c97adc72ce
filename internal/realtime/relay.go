package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"smsinbox/pkg/logger"
)

// Broker moves opaque payloads between processes
type Broker interface {
	Publish(ctx context.Context, body []byte) error
	// Subscribe delivers every payload to handler until ctx is done
	Subscribe(ctx context.Context, handler func(body []byte) error) error
	Close() error
}

// Relay publishes events to a broker and feeds what the broker delivers
// into the local hub. With a relay in place, writers publish only to the
// relay; their own events come back through the broker like everyone else's.
type Relay struct {
	broker Broker
	hub    *Hub
	log    *logger.Logger
}

// NewRelay connects a broker to a hub
func NewRelay(broker Broker, hub *Hub, log *logger.Logger) *Relay {
	return &Relay{broker: broker, hub: hub, log: log}
}

// Publish sends the event to every process. If the broker refuses it, the
// event is still delivered to this process's hub and the error is returned.
func (r *Relay) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.broker.Publish(ctx, body); err != nil {
		r.log.Warn("relay publish failed, delivering locally only",
			zap.String("event_type", string(event.Type)),
			zap.String("conversation_id", event.ConversationID),
			zap.Error(err),
		)
		_ = r.hub.Publish(ctx, event)
		return fmt.Errorf("failed to relay event: %w", err)
	}
	return nil
}

// Run forwards broker deliveries to the hub until ctx is done
func (r *Relay) Run(ctx context.Context) error {
	return r.broker.Subscribe(ctx, func(body []byte) error {
		var event Event
		if err := json.Unmarshal(body, &event); err != nil {
			r.log.Warn("dropping undecodable relay payload", zap.Error(err))
			return fmt.Errorf("failed to unmarshal event: %w", err)
		}
		return r.hub.Publish(ctx, event)
	})
}

// Close releases the broker
func (r *Relay) Close() error {
	return r.broker.Close()
}
