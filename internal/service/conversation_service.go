package service

import (
	"context"
	"errors"
	"time"

	"smsinbox/internal/models"
	"smsinbox/internal/realtime"
	"smsinbox/internal/repository"
	"smsinbox/pkg/logger"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// ConversationService serves the read side of the inbox
type ConversationService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	registry      *ConversationRegistry
	store         *MessageStore
	log           *logger.Logger
}

// NewConversationService creates a new conversation service
func NewConversationService(conversations repository.ConversationRepository, messages repository.MessageRepository, registry *ConversationRegistry, store *MessageStore, log *logger.Logger) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		registry:      registry,
		store:         store,
		log:           log,
	}
}

// ClampPage applies default and maximum page sizes
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// List returns conversations most recent first
func (s *ConversationService) List(ctx context.Context, limit, offset int) ([]*models.ConversationSummary, error) {
	limit, offset = ClampPage(limit, offset)
	summaries, err := s.conversations.List(ctx, limit, offset)
	if err != nil {
		return nil, &PersistenceError{Op: "list conversations", Err: err}
	}
	if summaries == nil {
		summaries = []*models.ConversationSummary{}
	}
	return summaries, nil
}

// Get returns one conversation
func (s *ConversationService) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return s.registry.Get(ctx, id)
}

// Messages returns a conversation's history oldest first
func (s *ConversationService) Messages(ctx context.Context, conversationID string, limit, offset int) ([]*models.Message, error) {
	if _, err := s.registry.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	limit, offset = ClampPage(limit, offset)
	messages, err := s.messages.ListByConversation(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, &PersistenceError{Op: "list messages", Err: err}
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	return messages, nil
}

// MarkRead clears the unread count up to now
func (s *ConversationService) MarkRead(ctx context.Context, id string) (*models.Conversation, error) {
	conversation, err := s.conversations.MarkRead(ctx, id, time.Now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "conversation", ID: id}
	}
	if err != nil {
		return nil, &PersistenceError{Op: "mark conversation read", Err: err}
	}

	s.store.PublishConversation(ctx, realtime.ConversationUpdated, conversation)
	return conversation, nil
}

// GetOrCreate opens a conversation with phoneNumber
func (s *ConversationService) GetOrCreate(ctx context.Context, phoneNumber string, name *string) (*models.Conversation, error) {
	return s.registry.GetOrCreate(ctx, phoneNumber, name)
}
