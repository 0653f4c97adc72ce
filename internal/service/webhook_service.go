package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"smsinbox/internal/gateway"
	"smsinbox/internal/models"
	"smsinbox/pkg/logger"
	"smsinbox/pkg/metrics"
)

// SignatureVerifier authenticates a callback body
type SignatureVerifier interface {
	Verify(signature, timestamp string, body []byte) error
}

// DeliveryLedger short-circuits callbacks that were already processed
type DeliveryLedger interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Callback is one raw HTTP delivery from the gateway
type Callback struct {
	Signature string
	Timestamp string
	Body      []byte
}

// WebhookOutcome says what processing a callback did
type WebhookOutcome string

const (
	WebhookStored    WebhookOutcome = "stored"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookApplied   WebhookOutcome = "applied"
	WebhookIgnored   WebhookOutcome = "ignored"
	WebhookDeduped   WebhookOutcome = "deduped"
)

// WebhookResult is returned for every accepted callback
type WebhookResult struct {
	EventID   string            `json:"event_id,omitempty"`
	EventType gateway.EventType `json:"event_type"`
	Outcome   WebhookOutcome    `json:"outcome"`
}

// WebhookProcessor authenticates, parses and applies gateway callbacks.
// Processing is idempotent: the same callback delivered twice leaves the
// store as if it were delivered once.
type WebhookProcessor struct {
	verifier   SignatureVerifier
	ledger     DeliveryLedger
	registry   *ConversationRegistry
	store      *MessageStore
	reconciler *Reconciler
	ownNumber  string
	log        *logger.Logger
}

// NewWebhookProcessor creates a processor. ledger may be nil.
func NewWebhookProcessor(verifier SignatureVerifier, ledger DeliveryLedger, registry *ConversationRegistry, store *MessageStore, reconciler *Reconciler, ownNumber string, log *logger.Logger) *WebhookProcessor {
	return &WebhookProcessor{
		verifier:   verifier,
		ledger:     ledger,
		registry:   registry,
		store:      store,
		reconciler: reconciler,
		ownNumber:  ownNumber,
		log:        log,
	}
}

// Process handles one callback. Signature failures return *SignatureError
// and unrecognized bodies *ParseError; nothing is written in either case.
func (p *WebhookProcessor) Process(ctx context.Context, cb Callback) (*WebhookResult, error) {
	if err := p.verifier.Verify(cb.Signature, cb.Timestamp, cb.Body); err != nil {
		p.log.Warn("rejected webhook signature", zap.Error(err))
		metrics.RecordWebhookEvent("unknown", "unauthorized")
		return nil, &SignatureError{Err: err}
	}

	event, err := gateway.ParseEvent(cb.Body)
	if err != nil {
		p.log.Warn("rejected webhook payload", zap.Error(err))
		metrics.RecordWebhookEvent("unknown", "invalid")
		return nil, &ParseError{Err: err}
	}

	meta := event.Meta()
	result := &WebhookResult{EventID: meta.EventID, EventType: event.Type()}
	fields := []zap.Field{
		zap.String("event_id", meta.EventID),
		zap.String("event_type", string(event.Type())),
		zap.String("provider_message_id", meta.ProviderMessageID),
	}

	claimed := false
	if p.ledger != nil && meta.EventID != "" {
		ok, err := p.ledger.Claim(ctx, meta.EventID)
		switch {
		case err != nil:
			p.log.Warn("delivery ledger unavailable, processing anyway", append(fields, zap.Error(err))...)
		case !ok:
			p.log.Debug("webhook already processed", fields...)
			result.Outcome = WebhookDeduped
			metrics.RecordWebhookEvent(string(event.Type()), string(WebhookDeduped))
			return result, nil
		default:
			claimed = true
		}
	}

	outcome, err := p.apply(ctx, event)
	if err != nil {
		if claimed {
			if relErr := p.ledger.Release(ctx, meta.EventID); relErr != nil {
				p.log.Warn("failed to release webhook claim", append(fields, zap.Error(relErr))...)
			}
		}
		p.log.Error("failed to process webhook", append(fields, zap.Error(err))...)
		metrics.RecordWebhookEvent(string(event.Type()), "error")
		return nil, err
	}

	result.Outcome = outcome
	p.log.Info("webhook processed", append(fields, zap.String("outcome", string(outcome)))...)
	metrics.RecordWebhookEvent(string(event.Type()), string(outcome))
	return result, nil
}

func (p *WebhookProcessor) apply(ctx context.Context, event gateway.Event) (WebhookOutcome, error) {
	switch ev := event.(type) {
	case gateway.Received:
		return p.receive(ctx, ev)
	case gateway.Sent:
		return p.transition(ctx, ev.Envelope, models.MessageStatusSent, "")
	case gateway.Delivered:
		return p.transition(ctx, ev.Envelope, models.MessageStatusDelivered, "")
	case gateway.DeliveryFailed:
		return p.transition(ctx, ev.Envelope, models.MessageStatusFailed, ev.ErrorDetail())
	default:
		return "", &ParseError{Err: gateway.ErrUnsupportedEvent}
	}
}

func (p *WebhookProcessor) receive(ctx context.Context, ev gateway.Received) (WebhookOutcome, error) {
	conversation, err := p.registry.GetOrCreate(ctx, ev.From, nil)
	var unroutable *ValidationError
	if errors.As(err, &unroutable) {
		// short codes and alphanumeric senders have no conversation to land in
		p.log.Warn("ignoring inbound message from unroutable sender",
			zap.String("from", ev.From),
			zap.String("provider_message_id", ev.ProviderMessageID),
		)
		return WebhookIgnored, nil
	}
	if err != nil {
		return "", err
	}

	to := ev.To
	if to == "" {
		to = p.ownNumber
	}
	providerID := ev.ProviderMessageID
	message := &models.Message{
		ConversationID:    conversation.ID,
		ProviderMessageID: &providerID,
		Direction:         models.DirectionInbound,
		FromNumber:        conversation.PhoneNumber,
		ToNumber:          to,
		Body:              ev.Text,
		Status:            models.MessageStatusReceived,
	}

	inserted, err := p.store.RecordInbound(ctx, message)
	if err != nil {
		return "", err
	}
	if !inserted {
		return WebhookDuplicate, nil
	}
	return WebhookStored, nil
}

func (p *WebhookProcessor) transition(ctx context.Context, env gateway.Envelope, target models.MessageStatus, detail string) (WebhookOutcome, error) {
	result, err := p.reconciler.Apply(ctx, Transition{
		ProviderMessageID: env.ProviderMessageID,
		Target:            target,
		OccurredAt:        env.OccurredAt,
		ErrorDetail:       detail,
	})
	if err != nil {
		return "", err
	}

	switch result.Outcome {
	case TransitionApplied:
		return WebhookApplied, nil
	case TransitionDuplicate:
		return WebhookDuplicate, nil
	default:
		return WebhookIgnored, nil
	}
}
