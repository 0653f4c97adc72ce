package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"smsinbox/internal/models"
)

const messageColumns = `id, conversation_id, provider_message_id, direction, from_number, to_number, body, status, error_detail, created_at, updated_at, delivered_at`

type messageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *sql.DB) MessageRepository {
	return &messageRepository{db: db}
}

func scanMessage(row scanner) (*models.Message, error) {
	m := &models.Message{}
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.ProviderMessageID,
		&m.Direction,
		&m.FromNumber,
		&m.ToNumber,
		&m.Body,
		&m.Status,
		&m.ErrorDetail,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Create creates a new message
func (r *messageRepository) Create(ctx context.Context, message *models.Message) (*models.Conversation, error) {
	query := `
		INSERT INTO messages (conversation_id, provider_message_id, direction, from_number, to_number, body, status, error_detail, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	conversation, _, err := r.insert(ctx, query, message)
	return conversation, err
}

// CreateIfAbsent inserts the message unless its provider id is already stored
func (r *messageRepository) CreateIfAbsent(ctx context.Context, message *models.Message) (*models.Conversation, bool, error) {
	query := `
		INSERT INTO messages (conversation_id, provider_message_id, direction, from_number, to_number, body, status, error_detail, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider_message_id) WHERE provider_message_id IS NOT NULL DO NOTHING
		RETURNING id, created_at, updated_at
	`
	conversation, inserted, err := r.insert(ctx, query, message)
	if err != nil && IsUniqueViolation(err) {
		return nil, false, nil
	}
	return conversation, inserted, err
}

func (r *messageRepository) insert(ctx context.Context, query string, message *models.Message) (*models.Conversation, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(
		ctx,
		query,
		message.ConversationID,
		message.ProviderMessageID,
		message.Direction,
		message.FromNumber,
		message.ToNumber,
		message.Body,
		message.Status,
		message.ErrorDetail,
		message.DeliveredAt,
	).Scan(&message.ID, &message.CreatedAt, &message.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create message: %w", err)
	}

	conversation, err := touchConversation(ctx, tx, message.ConversationID, message.CreatedAt)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return conversation, true, nil
}

func touchConversation(ctx context.Context, db DB, conversationID string, at time.Time) (*models.Conversation, error) {
	query := `
		UPDATE conversations
		SET last_message_at = GREATEST(last_message_at, $2), updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING ` + conversationColumns

	c, err := scanConversation(db.QueryRowContext(ctx, query, conversationID, at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation activity: %w", err)
	}
	return c, nil
}

// GetByID retrieves a message by ID
func (r *messageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	m, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

// GetByProviderID retrieves a message by the gateway's message id
func (r *messageRepository) GetByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE provider_message_id = $1`

	m, err := scanMessage(r.db.QueryRowContext(ctx, query, providerMessageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message by provider id: %w", err)
	}
	return m, nil
}

// ListByConversation returns a conversation's messages oldest first
func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`
	return r.list(ctx, "failed to list messages", query, conversationID, limit, offset)
}

// AdvanceStatus applies a conditional, non-regressing status change
func (r *messageRepository) AdvanceStatus(ctx context.Context, update StatusUpdate) (*models.Message, bool, error) {
	if len(update.From) == 0 {
		current, err := r.GetByProviderID(ctx, update.ProviderMessageID)
		return current, false, err
	}

	query := `
		UPDATE messages
		SET status = $2,
		    delivered_at = COALESCE($3, delivered_at),
		    error_detail = COALESCE($4, error_detail),
		    updated_at = CURRENT_TIMESTAMP
		WHERE provider_message_id = $1 AND status = ANY($5)
		RETURNING ` + messageColumns

	m, err := scanMessage(r.db.QueryRowContext(
		ctx,
		query,
		update.ProviderMessageID,
		update.Status,
		update.DeliveredAt,
		update.ErrorDetail,
		pq.Array(statusStrings(update.From)),
	))
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to update message status: %w", err)
	}

	current, err := r.GetByProviderID(ctx, update.ProviderMessageID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// ListStale returns outbound messages still in one of statuses that have
// not been updated or checked since olderThan
func (r *messageRepository) ListStale(ctx context.Context, statuses []models.MessageStatus, olderThan time.Time, limit int) ([]*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE direction = 'outbound'
		  AND provider_message_id IS NOT NULL
		  AND status = ANY($1)
		  AND COALESCE(status_checked_at, updated_at) < $2
		  AND updated_at < $2
		ORDER BY COALESCE(status_checked_at, updated_at) ASC
		LIMIT $3
	`
	return r.list(ctx, "failed to list stale messages", query, pq.Array(statusStrings(statuses)), olderThan, limit)
}

// MarkStatusChecked stamps status_checked_at without touching updated_at
func (r *messageRepository) MarkStatusChecked(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE messages SET status_checked_at = $1 WHERE id = ANY($2)`
	if _, err := r.db.ExecContext(ctx, query, at, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to mark status checked: %w", err)
	}
	return nil
}

func (r *messageRepository) list(ctx context.Context, failure, query string, args ...interface{}) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", failure, err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}
