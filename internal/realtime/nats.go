package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"smsinbox/pkg/logger"
)

// NATSBroker relays events over a plain NATS subject
type NATSBroker struct {
	conn    *nats.Conn
	subject string
	log     *logger.Logger
}

// ConnectNATS dials the server with unlimited reconnects
func ConnectNATS(url, subject string, log *logger.Logger) (*NATSBroker, error) {
	opts := []nats.Option{
		nats.Name("smsinbox"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSBroker{conn: nc, subject: subject, log: log}, nil
}

// Publish sends one payload on the subject
func (b *NATSBroker) Publish(_ context.Context, body []byte) error {
	if err := b.conn.Publish(b.subject, body); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	return nil
}

// Subscribe delivers payloads until ctx is done
func (b *NATSBroker) Subscribe(ctx context.Context, handler func(body []byte) error) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		if err := handler(msg.Data); err != nil {
			b.log.Warn("relay handler failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}

	<-ctx.Done()
	return sub.Unsubscribe()
}

// IsConnected reports whether the connection is up
func (b *NATSBroker) IsConnected() bool {
	return b.conn.IsConnected()
}

// Close drains and closes the connection
func (b *NATSBroker) Close() error {
	return b.conn.Drain()
}
