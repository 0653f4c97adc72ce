package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"smsinbox/internal/models"
	"smsinbox/internal/realtime"
	"smsinbox/internal/repository"
	"smsinbox/pkg/logger"
)

// MessageStore persists messages and publishes one change event per
// committed write. Publishing happens after the commit and never fails the
// write: observers that miss an event re-fetch.
type MessageStore struct {
	messages  repository.MessageRepository
	publisher realtime.Publisher
	log       *logger.Logger
}

// NewMessageStore creates a new message store
func NewMessageStore(messages repository.MessageRepository, publisher realtime.Publisher, log *logger.Logger) *MessageStore {
	return &MessageStore{messages: messages, publisher: publisher, log: log}
}

// RecordOutbound stores a dispatched message
func (s *MessageStore) RecordOutbound(ctx context.Context, message *models.Message) (*models.Conversation, error) {
	conversation, err := s.messages.Create(ctx, message)
	if err != nil {
		return nil, &PersistenceError{Op: "create message", Err: err}
	}

	s.publish(ctx, realtime.NewMessageEvent(realtime.MessageCreated, message))
	s.publish(ctx, realtime.NewConversationEvent(realtime.ConversationUpdated, conversation))
	return conversation, nil
}

// RecordInbound stores a received message unless its provider id is
// already known. inserted is false for a redelivered callback.
func (s *MessageStore) RecordInbound(ctx context.Context, message *models.Message) (inserted bool, err error) {
	conversation, inserted, err := s.messages.CreateIfAbsent(ctx, message)
	if err != nil {
		return false, &PersistenceError{Op: "create inbound message", Err: err}
	}
	if !inserted {
		return false, nil
	}

	s.publish(ctx, realtime.NewMessageEvent(realtime.MessageCreated, message))
	s.publish(ctx, realtime.NewConversationEvent(realtime.ConversationUpdated, conversation))
	return true, nil
}

// AdvanceStatus applies a conditional status change. A missing message is
// reported as repository.ErrNotFound, unwrapped.
func (s *MessageStore) AdvanceStatus(ctx context.Context, update repository.StatusUpdate) (*models.Message, bool, error) {
	message, applied, err := s.messages.AdvanceStatus(ctx, update)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}
	if err != nil {
		return nil, false, &PersistenceError{Op: "update message status", Err: err}
	}

	if applied {
		s.publish(ctx, realtime.NewMessageEvent(realtime.MessageUpdated, message))
	}
	return message, applied, nil
}

// PublishConversation announces a conversation write made outside the store
func (s *MessageStore) PublishConversation(ctx context.Context, eventType realtime.EventType, conversation *models.Conversation) {
	s.publish(ctx, realtime.NewConversationEvent(eventType, conversation))
}

func (s *MessageStore) publish(ctx context.Context, event realtime.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("failed to publish change event",
			zap.String("event_type", string(event.Type)),
			zap.String("conversation_id", event.ConversationID),
			zap.Error(err),
		)
	}
}
