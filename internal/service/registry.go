package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"smsinbox/internal/models"
	"smsinbox/internal/phone"
	"smsinbox/internal/realtime"
	"smsinbox/internal/repository"
	"smsinbox/pkg/logger"
)

// ConversationRegistry maps phone numbers to conversations
type ConversationRegistry struct {
	conversations repository.ConversationRepository
	store         *MessageStore
	normalizer    *phone.Normalizer
	log           *logger.Logger
}

// NewConversationRegistry creates a new registry
func NewConversationRegistry(conversations repository.ConversationRepository, store *MessageStore, normalizer *phone.Normalizer, log *logger.Logger) *ConversationRegistry {
	return &ConversationRegistry{
		conversations: conversations,
		store:         store,
		normalizer:    normalizer,
		log:           log,
	}
}

// GetOrCreate returns the single conversation for phoneNumber. Concurrent
// callers for the same number all get the same row.
func (r *ConversationRegistry) GetOrCreate(ctx context.Context, phoneNumber string, name *string) (*models.Conversation, error) {
	canonical := r.normalizer.Normalize(phoneNumber)
	if !phone.Valid(canonical) {
		return nil, &ValidationError{Message: "invalid phone number: " + phoneNumber}
	}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			name = nil
		} else {
			name = &trimmed
		}
	}

	conversation, created, err := r.conversations.GetOrCreate(ctx, canonical, name)
	if err != nil {
		return nil, &PersistenceError{Op: "get or create conversation", Err: err}
	}

	if created {
		r.log.Info("conversation created",
			zap.String("conversation_id", conversation.ID),
			zap.String("phone_number", canonical),
		)
		r.store.PublishConversation(ctx, realtime.ConversationCreated, conversation)
	}
	return conversation, nil
}

// Get returns a conversation by id
func (r *ConversationRegistry) Get(ctx context.Context, id string) (*models.Conversation, error) {
	conversation, err := r.conversations.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "conversation", ID: id}
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get conversation", Err: err}
	}
	return conversation, nil
}

// Normalize canonicalizes a phone number with the registry's country code
func (r *ConversationRegistry) Normalize(phoneNumber string) string {
	return r.normalizer.Normalize(phoneNumber)
}
