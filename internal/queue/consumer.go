package queue

import (
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"smsinbox/pkg/logger"
)

// MessageHandler processes one delivery body
type MessageHandler func(body []byte) error

// Consumer reads a fanout exchange through a private, auto-deleted queue,
// so each process receives its own copy of every event
type Consumer struct {
	conn     *Connection
	exchange string
	handler  MessageHandler
	log      *logger.Logger
	channel  *amqp.Channel
	stopChan chan struct{}
	stopOnce sync.Once
	doneChan chan struct{}
}

// NewConsumer creates a consumer; call Start to begin receiving
func NewConsumer(conn *Connection, exchange string, handler MessageHandler, log *logger.Logger) (*Consumer, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if exchange == "" {
		return nil, errors.New("exchange name cannot be empty")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	return &Consumer{
		conn:     conn,
		exchange: exchange,
		handler:  handler,
		log:      log,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start binds a private queue and consumes in a goroutine
func (c *Consumer) Start() error {
	ch, err := c.conn.NewChannel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareExchange(ch, c.exchange); err != nil {
		ch.Close()
		return err
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", c.exchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",    // consumer tag
		false, // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	c.channel = ch

	go func() {
		defer close(c.doneChan)

		for {
			select {
			case <-c.stopChan:
				return
			case d, ok := <-msgs:
				if !ok {
					c.log.Warn("delivery channel closed", zap.String("exchange", c.exchange))
					return
				}
				if err := c.handler(d.Body); err != nil {
					c.log.Warn("failed to process event", zap.Error(err))
					// Redelivering the same payload would fail the same way.
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	c.log.Info("consumer started", zap.String("exchange", c.exchange), zap.String("queue", q.Name))
	return nil
}

// Done is closed once the consumer stops receiving, either through Stop or
// because the broker closed the delivery channel
func (c *Consumer) Done() <-chan struct{} {
	return c.doneChan
}

// Stop stops consuming and closes the consumer's channel. It is safe to call
// after the delivery channel has already closed.
func (c *Consumer) Stop() error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	<-c.doneChan

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("failed to close consumer channel: %w", err)
		}
	}
	return nil
}
