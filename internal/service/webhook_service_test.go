package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"smsinbox/internal/gateway"
	"smsinbox/internal/models"
	"smsinbox/internal/realtime"
	"smsinbox/internal/testutil"
	"smsinbox/pkg/logger"
)

type memoryLedger struct {
	mu      sync.Mutex
	claimed map[string]bool
	err     error
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{claimed: make(map[string]bool)}
}

func (l *memoryLedger) Claim(_ context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.claimed[eventID] {
		return false, nil
	}
	l.claimed[eventID] = true
	return true, nil
}

func (l *memoryLedger) Release(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claimed, eventID)
	return nil
}

type signer struct {
	key      ed25519.PrivateKey
	verifier *gateway.Verifier
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	testutil.AssertNoError(t, err)

	verifier, err := gateway.NewVerifier(base64.StdEncoding.EncodeToString(pub), 5*time.Minute)
	testutil.AssertNoError(t, err)
	return &signer{key: priv, verifier: verifier}
}

func (s *signer) sign(body string) Callback {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := ed25519.Sign(s.key, gateway.SignedPayload(ts, []byte(body)))
	return Callback{
		Signature: base64.StdEncoding.EncodeToString(sig),
		Timestamp: ts,
		Body:      []byte(body),
	}
}

func receivedBody(eventID, providerID, from, text string) string {
	return fmt.Sprintf(`{"data":{"event_type":"message.received","id":%q,"occurred_at":"2026-01-02T10:00:00Z","payload":{"id":%q,"from":{"phone_number":%q},"to":[{"phone_number":"+15550001111"}],"text":%q}}}`,
		eventID, providerID, from, text)
}

func statusBody(eventType, eventID, providerID, occurredAt string) string {
	return fmt.Sprintf(`{"data":{"event_type":%q,"id":%q,"occurred_at":%q,"payload":{"id":%q}}}`,
		eventType, eventID, occurredAt, providerID)
}

func newProcessor(h *harness, s *signer, ledger DeliveryLedger) *WebhookProcessor {
	var verifier SignatureVerifier = gateway.AcceptAll{}
	if s != nil {
		verifier = s.verifier
	}
	return NewWebhookProcessor(verifier, ledger, h.registry, h.store, h.reconciler, ownNumber, logger.NewNop())
}

func TestWebhook_ReceivedCreatesConversationAndMessage(t *testing.T) {
	h := newHarness(t)
	s := newSigner(t)
	p := newProcessor(h, s, nil)

	result, err := p.Process(context.Background(), s.sign(receivedBody("evt-1", "in-1", "+15551234567", "Hi there")))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result.Outcome, WebhookStored)
	testutil.AssertEqual(t, result.EventType, gateway.EventReceived)

	testutil.AssertEqual(t, h.mem.ConversationCount(), 1)
	testutil.AssertEqual(t, h.mem.MessageCount(), 1)

	stored, err := h.mem.Messages.GetByProviderID(context.Background(), "in-1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, stored.Direction, models.DirectionInbound)
	testutil.AssertEqual(t, stored.Status, models.MessageStatusReceived)
	testutil.AssertEqual(t, stored.Body, "Hi there")
	testutil.AssertEqual(t, stored.ToNumber, ownNumber)
	testutil.AssertEqual(t, h.pub.count(realtime.MessageCreated), 1)
}

func TestWebhook_ReceivedFromShortCodeIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	s := newSigner(t)
	p := newProcessor(h, s, nil)

	for _, from := range []string{"22395", "ACMEBANK"} {
		result, err := p.Process(context.Background(), s.sign(receivedBody("evt-"+from, "in-"+from, from, "STOP confirmed")))
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, result.Outcome, WebhookIgnored)
	}

	testutil.AssertEqual(t, h.mem.ConversationCount(), 0)
	testutil.AssertEqual(t, h.mem.MessageCount(), 0)
	testutil.AssertEqual(t, h.pub.count(realtime.MessageCreated), 0)
}

func TestWebhook_ReceivedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	s := newSigner(t)
	p := newProcessor(h, s, nil)
	body := receivedBody("evt-1", "in-1", "+15551234567", "Hi")

	for i := 0; i < 3; i++ {
		_, err := p.Process(context.Background(), s.sign(body))
		testutil.AssertNoError(t, err)
	}

	testutil.AssertEqual(t, h.mem.MessageCount(), 1)
	testutil.AssertEqual(t, h.mem.ConversationCount(), 1)
	testutil.AssertEqual(t, h.pub.count(realtime.MessageCreated), 1)
}

func TestWebhook_StatusProgression(t *testing.T) {
	h := newHarness(t)
	p := newProcessor(h, nil, nil)
	ctx := context.Background()

	sent, err := h.dispatcher.Send(ctx, SendRequest{To: "+15551234567", Body: "Hello"})
	testutil.AssertNoError(t, err)
	providerID := sent.Message.ProviderID()

	result, err := p.Process(ctx, Callback{Body: []byte(statusBody("message.sent", "evt-s", providerID, "2026-01-02T10:00:01Z"))})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result.Outcome, WebhookApplied)

	result, err = p.Process(ctx, Callback{Body: []byte(statusBody("message.delivered", "evt-d", providerID, "2026-01-02T10:00:05Z"))})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result.Outcome, WebhookApplied)

	stored, err := h.mem.Messages.GetByProviderID(ctx, providerID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, stored.Status, models.MessageStatusDelivered)
	if stored.DeliveredAt == nil {
		t.Fatal("Expected delivered_at to be set")
	}
	want, _ := time.Parse(time.RFC3339, "2026-01-02T10:00:05Z")
	testutil.AssertEqual(t, stored.DeliveredAt.Equal(want), true)
	testutil.AssertEqual(t, h.pub.count(realtime.MessageUpdated), 2)
}

func TestWebhook_LateSentDoesNotRegressDelivered(t *testing.T) {
	h := newHarness(t)
	p := newProcessor(h, nil, nil)
	ctx := context.Background()

	sent, err := h.dispatcher.Send(ctx, SendRequest{To: "+15551234567", Body: "Hello"})
	testutil.AssertNoError(t, err)
	providerID := sent.Message.ProviderID()

	_, err = p.Process(ctx, Callback{Body: []byte(statusBody("message.delivered", "evt-d", providerID, "2026-01-02T10:00:05Z"))})
	testutil.AssertNoError(t, err)

	result, err := p.Process(ctx, Callback{Body: []byte(statusBody("message.sent", "evt-s", providerID, "2026-01-02T10:00:01Z"))})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result.Outcome, WebhookIgnored)

	stored, err := h.mem.Messages.GetByProviderID(ctx, providerID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, stored.Status, models.MessageStatusDelivered)
	testutil.AssertEqual(t, h.pub.count(realtime.MessageUpdated), 1)
}

func TestWebhook_DeliveryFailedRecordsDetail(t *testing.T) {
	h := newHarness(t)
	p := newProcessor(h, nil, nil)
	ctx := context.Background()

	sent, err := h.dispatcher.Send(ctx, SendRequest{To: "+15551234567", Body: "Hello"})
	testutil.AssertNoError(t, err)
	providerID := sent.Message.ProviderID()

	body := fmt.Sprintf(`{"data":{"event_type":"message.delivery_failed","id":"evt-f","payload":{"id":%q,"errors":[{"code":"40300","title":"Blocked"}]}}}`, providerID)
	result, err := p.Process(ctx, Callback{Body: []byte(body)})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result.Outcome, WebhookApplied)

	stored, err := h.mem.Messages.GetByProviderID(ctx, providerID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, stored.Status, models.MessageStatusFailed)
	if stored.ErrorDetail == nil {
		t.Fatal("Expected error detail")
	}
	testutil.AssertContains(t, *stored.ErrorDetail, "Blocked")
}

func TestWebhook_StatusForUnknownMessageIsIgnored(t *testing.T) {
	h := newHarness(t)
	p := newProcessor(h, nil, nil)

	result, err := p.Process(context.Background(), Callback{Body: []byte(statusBody("message.delivered", "evt-x", "unknown", "2026-01-02T10:00:05Z"))})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result.Outcome, WebhookIgnored)
	testutil.AssertEqual(t, h.mem.MessageCount(), 0)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	s := newSigner(t)
	p := newProcessor(h, s, nil)

	cb := s.sign(receivedBody("evt-1", "in-1", "+15551234567", "Hi"))
	cb.Body = []byte(receivedBody("evt-1", "in-1", "+15551234567", "tampered"))

	_, err := p.Process(context.Background(), cb)
	var sigErr *SignatureError
	if !errors.As(err, &sigErr) {
		t.Fatalf("Expected SignatureError, got %v", err)
	}
	testutil.AssertEqual(t, h.mem.MessageCount(), 0)
	testutil.AssertEqual(t, h.mem.ConversationCount(), 0)

	_, err = p.Process(context.Background(), Callback{Body: cb.Body})
	if !errors.As(err, &sigErr) {
		t.Fatalf("Expected SignatureError for missing headers, got %v", err)
	}
}

func TestWebhook_RejectsUnknownEvent(t *testing.T) {
	h := newHarness(t)
	s := newSigner(t)
	p := newProcessor(h, s, nil)

	for _, body := range []string{
		`{"data":{"event_type":"message.finalized","id":"evt-1","payload":{"id":"x"}}}`,
		`not json`,
		`{"data":{"event_type":"message.received","id":"evt-2","payload":{"id":"in-2"}}}`,
	} {
		_, err := p.Process(context.Background(), s.sign(body))
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Errorf("Expected ParseError for %s, got %v", body, err)
		}
	}
	testutil.AssertEqual(t, h.mem.MessageCount(), 0)
}

func TestWebhook_LedgerShortCircuitsRedelivery(t *testing.T) {
	h := newHarness(t)
	ledger := newMemoryLedger()
	p := newProcessor(h, nil, ledger)
	body := []byte(receivedBody("evt-1", "in-1", "+15551234567", "Hi"))

	result, err := p.Process(context.Background(), Callback{Body: body})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result.Outcome, WebhookStored)

	result, err = p.Process(context.Background(), Callback{Body: body})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result.Outcome, WebhookDeduped)
	testutil.AssertEqual(t, h.mem.Calls("CreateIfAbsent"), 1)
}

func TestWebhook_LedgerReleasedOnFailure(t *testing.T) {
	h := newHarness(t)
	ledger := newMemoryLedger()
	p := newProcessor(h, nil, ledger)
	body := []byte(receivedBody("evt-1", "in-1", "+15551234567", "Hi"))

	h.mem.Messages.CreateIfAbsentFunc = func(ctx context.Context, m *models.Message) (*models.Conversation, bool, error) {
		return nil, false, errors.New("database unavailable")
	}
	_, err := p.Process(context.Background(), Callback{Body: body})
	var persistenceErr *PersistenceError
	if !errors.As(err, &persistenceErr) {
		t.Fatalf("Expected PersistenceError, got %v", err)
	}

	h.mem.Messages.CreateIfAbsentFunc = nil
	result, err := p.Process(context.Background(), Callback{Body: body})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result.Outcome, WebhookStored)
	testutil.AssertEqual(t, h.mem.MessageCount(), 1)
}

func TestWebhook_LedgerOutageFallsBackToDatabase(t *testing.T) {
	h := newHarness(t)
	ledger := newMemoryLedger()
	ledger.err = errors.New("redis down")
	p := newProcessor(h, nil, ledger)
	body := []byte(receivedBody("evt-1", "in-1", "+15551234567", "Hi"))

	for i := 0; i < 2; i++ {
		_, err := p.Process(context.Background(), Callback{Body: body})
		testutil.AssertNoError(t, err)
	}
	testutil.AssertEqual(t, h.mem.MessageCount(), 1)
}
