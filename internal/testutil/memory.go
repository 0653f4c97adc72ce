package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"smsinbox/internal/models"
	"smsinbox/internal/repository"
)

// MemoryStore is an in-memory stand-in for the Postgres repositories. It
// enforces the same uniqueness rules as the schema: one conversation per
// phone number and one message per non-null provider id.
type MemoryStore struct {
	Conversations *MemoryConversationRepository
	Messages      *MemoryMessageRepository

	mu             sync.Mutex
	conversations  map[string]*models.Conversation
	byPhone        map[string]string
	messages       map[string]*models.Message
	checkedAt      map[string]time.Time
	byProviderID   map[string]string
	messageOrder   []string
	calls          map[string]int
	clock          func() time.Time
	insertSequence int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		conversations: make(map[string]*models.Conversation),
		byPhone:       make(map[string]string),
		messages:      make(map[string]*models.Message),
		checkedAt:     make(map[string]time.Time),
		byProviderID:  make(map[string]string),
		calls:         make(map[string]int),
		clock:         time.Now,
	}
	s.Conversations = &MemoryConversationRepository{store: s}
	s.Messages = &MemoryMessageRepository{store: s}
	return s
}

// Calls returns how many times the named repository method ran
func (s *MemoryStore) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

// ConversationCount returns the number of stored conversations
func (s *MemoryStore) ConversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// MessageCount returns the number of stored messages
func (s *MemoryStore) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *MemoryStore) record(name string) {
	s.calls[name]++
}

// now returns strictly increasing timestamps so ordering by created_at is stable
func (s *MemoryStore) now() time.Time {
	s.insertSequence++
	return s.clock().Add(time.Duration(s.insertSequence) * time.Microsecond)
}

func copyConversation(c *models.Conversation) *models.Conversation {
	cp := *c
	return &cp
}

func copyMessage(m *models.Message) *models.Message {
	cp := *m
	return &cp
}

// MemoryConversationRepository implements repository.ConversationRepository
type MemoryConversationRepository struct {
	store *MemoryStore

	GetOrCreateFunc func(ctx context.Context, phoneNumber string, name *string) (*models.Conversation, bool, error)
	GetByIDFunc     func(ctx context.Context, id string) (*models.Conversation, error)
}

var _ repository.ConversationRepository = (*MemoryConversationRepository)(nil)

func (r *MemoryConversationRepository) GetOrCreate(ctx context.Context, phoneNumber string, name *string) (*models.Conversation, bool, error) {
	if r.GetOrCreateFunc != nil {
		return r.GetOrCreateFunc(ctx, phoneNumber, name)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetOrCreate")

	if id, ok := s.byPhone[phoneNumber]; ok {
		return copyConversation(s.conversations[id]), false, nil
	}

	now := s.now()
	c := &models.Conversation{
		ID:          uuid.NewString(),
		PhoneNumber: phoneNumber,
		Name:        name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.conversations[c.ID] = c
	s.byPhone[phoneNumber] = c.ID
	return copyConversation(c), true, nil
}

func (r *MemoryConversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	if r.GetByIDFunc != nil {
		return r.GetByIDFunc(ctx, id)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetByID")

	c, ok := s.conversations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyConversation(c), nil
}

func (r *MemoryConversationRepository) GetByPhone(ctx context.Context, phoneNumber string) (*models.Conversation, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetByPhone")

	id, ok := s.byPhone[phoneNumber]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyConversation(s.conversations[id]), nil
}

func (r *MemoryConversationRepository) List(ctx context.Context, limit, offset int) ([]*models.ConversationSummary, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("List")

	var out []*models.ConversationSummary
	for _, c := range s.conversations {
		summary := &models.ConversationSummary{Conversation: *copyConversation(c)}
		for _, id := range s.messageOrder {
			m := s.messages[id]
			if m.ConversationID != c.ID {
				continue
			}
			summary.LastMessage = copyMessage(m)
			if m.IsInbound() && (c.LastReadAt == nil || m.CreatedAt.After(*c.LastReadAt)) {
				summary.UnreadCount++
			}
		}
		out = append(out, summary)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a == nil && b == nil:
			return out[i].CreatedAt.After(out[j].CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryConversationRepository) MarkRead(ctx context.Context, id string, at time.Time) (*models.Conversation, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("MarkRead")

	c, ok := s.conversations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if c.LastReadAt == nil || at.After(*c.LastReadAt) {
		c.LastReadAt = &at
	}
	return copyConversation(c), nil
}

// MemoryMessageRepository implements repository.MessageRepository
type MemoryMessageRepository struct {
	store *MemoryStore

	CreateFunc         func(ctx context.Context, message *models.Message) (*models.Conversation, error)
	CreateIfAbsentFunc func(ctx context.Context, message *models.Message) (*models.Conversation, bool, error)
	AdvanceStatusFunc  func(ctx context.Context, update repository.StatusUpdate) (*models.Message, bool, error)
}

var _ repository.MessageRepository = (*MemoryMessageRepository)(nil)

func (r *MemoryMessageRepository) Create(ctx context.Context, message *models.Message) (*models.Conversation, error) {
	if r.CreateFunc != nil {
		return r.CreateFunc(ctx, message)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Create")

	if pid := message.ProviderID(); pid != "" {
		if _, exists := s.byProviderID[pid]; exists {
			return nil, fmt.Errorf("failed to create message: duplicate provider_message_id %s", pid)
		}
	}
	return s.insertLocked(message)
}

func (r *MemoryMessageRepository) CreateIfAbsent(ctx context.Context, message *models.Message) (*models.Conversation, bool, error) {
	if r.CreateIfAbsentFunc != nil {
		return r.CreateIfAbsentFunc(ctx, message)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("CreateIfAbsent")

	if pid := message.ProviderID(); pid != "" {
		if _, exists := s.byProviderID[pid]; exists {
			return nil, false, nil
		}
	}
	c, err := s.insertLocked(message)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (s *MemoryStore) insertLocked(message *models.Message) (*models.Conversation, error) {
	c, ok := s.conversations[message.ConversationID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	now := s.now()
	message.ID = uuid.NewString()
	message.CreatedAt = now
	message.UpdatedAt = now

	stored := copyMessage(message)
	s.messages[stored.ID] = stored
	s.messageOrder = append(s.messageOrder, stored.ID)
	if pid := stored.ProviderID(); pid != "" {
		s.byProviderID[pid] = stored.ID
	}

	if c.LastMessageAt == nil || now.After(*c.LastMessageAt) {
		c.LastMessageAt = &now
	}
	c.UpdatedAt = now
	return copyConversation(c), nil
}

func (r *MemoryMessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetByID")

	m, ok := s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyMessage(m), nil
}

func (r *MemoryMessageRepository) GetByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetByProviderID")

	id, ok := s.byProviderID[providerMessageID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyMessage(s.messages[id]), nil
}

func (r *MemoryMessageRepository) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*models.Message, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ListByConversation")

	var out []*models.Message
	for _, id := range s.messageOrder {
		if m := s.messages[id]; m.ConversationID == conversationID {
			out = append(out, copyMessage(m))
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryMessageRepository) AdvanceStatus(ctx context.Context, update repository.StatusUpdate) (*models.Message, bool, error) {
	if r.AdvanceStatusFunc != nil {
		return r.AdvanceStatusFunc(ctx, update)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("AdvanceStatus")

	id, ok := s.byProviderID[update.ProviderMessageID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	m := s.messages[id]

	allowed := false
	for _, from := range update.From {
		if m.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return copyMessage(m), false, nil
	}

	m.Status = update.Status
	if update.DeliveredAt != nil {
		m.DeliveredAt = update.DeliveredAt
	}
	if update.ErrorDetail != nil {
		m.ErrorDetail = update.ErrorDetail
	}
	m.UpdatedAt = s.now()
	return copyMessage(m), true, nil
}

func (r *MemoryMessageRepository) ListStale(ctx context.Context, statuses []models.MessageStatus, olderThan time.Time, limit int) ([]*models.Message, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ListStale")

	lastLook := func(m *models.Message) time.Time {
		if at, ok := s.checkedAt[m.ID]; ok {
			return at
		}
		return m.UpdatedAt
	}

	var out []*models.Message
	for _, id := range s.messageOrder {
		m := s.messages[id]
		if m.Direction != models.DirectionOutbound || m.ProviderMessageID == nil {
			continue
		}
		if !m.UpdatedAt.Before(olderThan) || !lastLook(m).Before(olderThan) {
			continue
		}
		for _, st := range statuses {
			if m.Status == st {
				out = append(out, copyMessage(m))
				break
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return lastLook(out[i]).Before(lastLook(out[j]))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryMessageRepository) MarkStatusChecked(ctx context.Context, ids []string, at time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("MarkStatusChecked")

	for _, id := range ids {
		if _, ok := s.messages[id]; ok {
			s.checkedAt[id] = at
		}
	}
	return nil
}

// Put stores a message as-is, bypassing the insert rules. Used to seed fixtures.
func (s *MemoryStore) Put(conversation *models.Conversation, messages ...*models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conversation != nil {
		s.conversations[conversation.ID] = copyConversation(conversation)
		s.byPhone[conversation.PhoneNumber] = conversation.ID
	}
	for _, m := range messages {
		s.messages[m.ID] = copyMessage(m)
		s.messageOrder = append(s.messageOrder, m.ID)
		if pid := m.ProviderID(); pid != "" {
			s.byProviderID[pid] = m.ID
		}
	}
}
