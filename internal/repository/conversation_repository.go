package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"smsinbox/internal/models"
)

const conversationColumns = `id, phone_number, name, last_message_at, last_read_at, created_at, updated_at`

type conversationRepository struct {
	db *sql.DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *sql.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func scanConversation(row scanner) (*models.Conversation, error) {
	c := &models.Conversation{}
	err := row.Scan(
		&c.ID,
		&c.PhoneNumber,
		&c.Name,
		&c.LastMessageAt,
		&c.LastReadAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetOrCreate relies on the unique phone_number constraint: a writer that
// loses the insert race reads the winner's row instead of failing.
func (r *conversationRepository) GetOrCreate(ctx context.Context, phoneNumber string, name *string) (*models.Conversation, bool, error) {
	existing, err := r.GetByPhone(ctx, phoneNumber)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	query := `
		INSERT INTO conversations (phone_number, name)
		VALUES ($1, $2)
		RETURNING ` + conversationColumns

	created, err := scanConversation(r.db.QueryRowContext(ctx, query, phoneNumber, name))
	if err == nil {
		return created, true, nil
	}
	if !IsUniqueViolation(err) {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	winner, err := r.GetByPhone(ctx, phoneNumber)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read conversation after conflict: %w", err)
	}
	return winner, false, nil
}

// GetByID retrieves a conversation by ID
func (r *conversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	c, err := scanConversation(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

// GetByPhone retrieves a conversation by its canonical phone number
func (r *conversationRepository) GetByPhone(ctx context.Context, phoneNumber string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE phone_number = $1`

	c, err := scanConversation(r.db.QueryRowContext(ctx, query, phoneNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation by phone: %w", err)
	}
	return c, nil
}

// List returns conversations ordered by most recent activity, each with its
// latest message and the number of inbound messages newer than last_read_at
func (r *conversationRepository) List(ctx context.Context, limit, offset int) ([]*models.ConversationSummary, error) {
	query := `
		SELECT
			c.id, c.phone_number, c.name, c.last_message_at, c.last_read_at, c.created_at, c.updated_at,
			lm.id, lm.conversation_id, lm.provider_message_id, lm.direction, lm.from_number, lm.to_number,
			lm.body, lm.status, lm.error_detail, lm.created_at, lm.updated_at, lm.delivered_at,
			(
				SELECT COUNT(*) FROM messages u
				WHERE u.conversation_id = c.id
				  AND u.direction = 'inbound'
				  AND (c.last_read_at IS NULL OR u.created_at > c.last_read_at)
			) AS unread_count
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT * FROM messages m
			WHERE m.conversation_id = c.id
			ORDER BY m.created_at DESC
			LIMIT 1
		) lm ON true
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*models.ConversationSummary
	for rows.Next() {
		s := &models.ConversationSummary{}
		var lm nullableMessage

		err := rows.Scan(
			&s.ID, &s.PhoneNumber, &s.Name, &s.LastMessageAt, &s.LastReadAt, &s.CreatedAt, &s.UpdatedAt,
			&lm.ID, &lm.ConversationID, &lm.ProviderMessageID, &lm.Direction, &lm.FromNumber, &lm.ToNumber,
			&lm.Body, &lm.Status, &lm.ErrorDetail, &lm.CreatedAt, &lm.UpdatedAt, &lm.DeliveredAt,
			&s.UnreadCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}

		s.LastMessage = lm.message()
		summaries = append(summaries, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}

	return summaries, nil
}

// MarkRead moves the read marker forward; it never moves it back
func (r *conversationRepository) MarkRead(ctx context.Context, id string, at time.Time) (*models.Conversation, error) {
	query := `
		UPDATE conversations
		SET last_read_at = GREATEST(last_read_at, $2), updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING ` + conversationColumns

	c, err := scanConversation(r.db.QueryRowContext(ctx, query, id, at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return c, nil
}

// nullableMessage receives the LEFT JOIN side of a listing
type nullableMessage struct {
	ID                sql.NullString
	ConversationID    sql.NullString
	ProviderMessageID *string
	Direction         sql.NullString
	FromNumber        sql.NullString
	ToNumber          sql.NullString
	Body              sql.NullString
	Status            sql.NullString
	ErrorDetail       *string
	CreatedAt         sql.NullTime
	UpdatedAt         sql.NullTime
	DeliveredAt       *time.Time
}

func (n nullableMessage) message() *models.Message {
	if !n.ID.Valid {
		return nil
	}
	return &models.Message{
		ID:                n.ID.String,
		ConversationID:    n.ConversationID.String,
		ProviderMessageID: n.ProviderMessageID,
		Direction:         models.Direction(n.Direction.String),
		FromNumber:        n.FromNumber.String,
		ToNumber:          n.ToNumber.String,
		Body:              n.Body.String,
		Status:            models.MessageStatus(n.Status.String),
		ErrorDetail:       n.ErrorDetail,
		CreatedAt:         n.CreatedAt.Time,
		UpdatedAt:         n.UpdatedAt.Time,
		DeliveredAt:       n.DeliveredAt,
	}
}
