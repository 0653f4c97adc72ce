package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"smsinbox/pkg/logger"
)

const (
	resubscribeInitialDelay = time.Second
	resubscribeMaxDelay     = 30 * time.Second
)

// EventBus adapts a Publisher and a Consumer on one exchange to the
// realtime relay's broker contract
type EventBus struct {
	conn      *Connection
	publisher *Publisher
	exchange  string
	log       *logger.Logger
}

// NewEventBus declares the exchange and prepares a publisher
func NewEventBus(conn *Connection, exchange string, log *logger.Logger) (*EventBus, error) {
	pub, err := NewPublisher(conn, exchange)
	if err != nil {
		return nil, err
	}
	return &EventBus{conn: conn, publisher: pub, exchange: exchange, log: log}, nil
}

// Publish sends one payload to every process
func (b *EventBus) Publish(ctx context.Context, body []byte) error {
	return b.publisher.Publish(ctx, body)
}

// Subscribe consumes until ctx is done. When the broker drops the consumer
// (channel closed, connection lost) a fresh one is started with backoff.
func (b *EventBus) Subscribe(ctx context.Context, handler func(body []byte) error) error {
	start := func() (subscription, error) {
		consumer, err := NewConsumer(b.conn, b.exchange, handler, b.log)
		if err != nil {
			return nil, &permanentError{err}
		}
		if err := consumer.Start(); err != nil {
			return nil, fmt.Errorf("failed to start event consumer: %w", err)
		}
		return consumer, nil
	}
	return keepSubscribed(ctx, start, resubscribeBackoff, b.log.With(zap.String("exchange", b.exchange)))
}

// IsConnected reports whether the broker connection is up
func (b *EventBus) IsConnected() bool {
	return b.conn.IsConnected()
}

// Close closes the underlying connection
func (b *EventBus) Close() error {
	return b.conn.Close()
}

// subscription is a running consumer
type subscription interface {
	Done() <-chan struct{}
	Stop() error
}

// permanentError marks a start failure that retrying cannot fix
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func resubscribeBackoff(attempt int) time.Duration {
	d := resubscribeInitialDelay << attempt
	if d <= 0 || d > resubscribeMaxDelay {
		return resubscribeMaxDelay
	}
	return d
}

// keepSubscribed runs start and restarts it whenever the subscription ends
// before ctx does
func keepSubscribed(ctx context.Context, start func() (subscription, error), backoff func(attempt int) time.Duration, log *logger.Logger) error {
	attempt := 0
	for {
		sub, err := start()
		if err != nil {
			var permanent *permanentError
			if errors.As(err, &permanent) {
				return permanent.err
			}
			log.Warn("event consumer failed to start, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
		} else {
			select {
			case <-ctx.Done():
				return sub.Stop()
			case <-sub.Done():
				_ = sub.Stop()
				log.Warn("event consumer stopped unexpectedly, resubscribing")
				attempt = 0
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff(attempt)):
		}
		attempt++
	}
}
