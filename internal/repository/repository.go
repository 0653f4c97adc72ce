package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"smsinbox/internal/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

// ConversationRepository defines conversation data access operations
type ConversationRepository interface {
	// GetOrCreate returns the conversation for phoneNumber, inserting it if
	// needed. created is false when another writer got there first.
	GetOrCreate(ctx context.Context, phoneNumber string, name *string) (conversation *models.Conversation, created bool, err error)
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	GetByPhone(ctx context.Context, phoneNumber string) (*models.Conversation, error)
	List(ctx context.Context, limit, offset int) ([]*models.ConversationSummary, error)
	MarkRead(ctx context.Context, id string, at time.Time) (*models.Conversation, error)
}

// MessageRepository defines message data access operations
type MessageRepository interface {
	// Create inserts the message and bumps its conversation's last_message_at
	// in one transaction, returning the updated conversation.
	Create(ctx context.Context, message *models.Message) (*models.Conversation, error)
	// CreateIfAbsent behaves like Create unless a message with the same
	// provider id already exists, in which case nothing is written.
	CreateIfAbsent(ctx context.Context, message *models.Message) (conversation *models.Conversation, inserted bool, err error)
	GetByID(ctx context.Context, id string) (*models.Message, error)
	GetByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error)
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*models.Message, error)
	// AdvanceStatus moves the message to update.Status only if its current
	// status is one of update.From. When the update is not applied, the
	// current row is returned with applied=false.
	AdvanceStatus(ctx context.Context, update StatusUpdate) (message *models.Message, applied bool, err error)
	// ListStale returns outbound messages in one of statuses that neither
	// changed nor were checked since olderThan, least recently looked at first.
	ListStale(ctx context.Context, statuses []models.MessageStatus, olderThan time.Time, limit int) ([]*models.Message, error)
	// MarkStatusChecked records that the gateway was asked about ids at at
	MarkStatusChecked(ctx context.Context, ids []string, at time.Time) error
}

// StatusUpdate is a conditional status change keyed on provider message id
type StatusUpdate struct {
	ProviderMessageID string
	Status            models.MessageStatus
	From              []models.MessageStatus
	DeliveredAt       *time.Time
	ErrorDetail       *string
}

// DB is a wrapper around *sql.DB to allow passing in transaction
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// IsUniqueViolation reports whether err came from a unique constraint
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

func statusStrings(statuses []models.MessageStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
