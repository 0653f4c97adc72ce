package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"

	"smsinbox/internal/gateway"
	"smsinbox/internal/models"
	"smsinbox/internal/phone"
	"smsinbox/internal/realtime"
	"smsinbox/internal/service"
	"smsinbox/internal/testutil"
	"smsinbox/pkg/logger"
)

const testSecret = "test-secret"

type testServer struct {
	handler http.Handler
	mem     *testutil.MemoryStore
	hub     *realtime.Hub
	token   string
}

func newTestServer(t *testing.T, successRate float64) *testServer {
	t.Helper()
	log := logger.NewNop()

	mem := testutil.NewMemoryStore()
	hub := realtime.NewHub(16, log)
	sim := gateway.NewSimulator("+15550001111", successRate).WithoutLatency()

	store := service.NewMessageStore(mem.Messages, hub, log)
	registry := service.NewConversationRegistry(mem.Conversations, store, phone.NewNormalizer("1"), log)
	reconciler := service.NewReconciler(store, log)
	dispatcher := service.NewDispatcher(sim, registry, store, time.Second, 0, log)
	processor := service.NewWebhookProcessor(gateway.AcceptAll{}, nil, registry, store, reconciler, sim.From(), log)
	conversations := service.NewConversationService(mem.Conversations, mem.Messages, registry, store, log)

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.ExpectPing()

	router := NewRouter(RouterConfig{
		Send:          NewSendHandler(dispatcher),
		Webhook:       NewWebhookHandler(processor, log),
		Conversations: NewConversationHandler(conversations),
		Stream:        NewStreamHandler(hub, conversations, time.Minute, log),
		Health:        NewHealthHandler(service.NewHealthService(db, nil, nil, "test", log)),
		JWTSecret:     testSecret,
		Log:           log,
	})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	testutil.AssertNoError(t, err)

	return &testServer{handler: router, mem: mem, hub: hub, token: token}
}

func (s *testServer) do(t *testing.T, method, url string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.NewJSONRequest(t, method, url, body)
	req.Header.Set("Authorization", "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestSend_Success(t *testing.T) {
	srv := newTestServer(t, 1.0)

	rec := srv.do(t, http.MethodPost, "/api/sms/send", map[string]string{
		"to":      "5551234567",
		"message": "Hello",
	})
	testutil.AssertStatusCode(t, rec, http.StatusOK)

	var resp SendResponse
	testutil.ParseJSONResponse(t, rec, &resp)
	testutil.AssertEqual(t, resp.Success, true)
	testutil.AssertEqual(t, resp.MessageID, resp.Message.ProviderID())
	testutil.AssertEqual(t, resp.Message.Status, models.MessageStatusPending)
	testutil.AssertEqual(t, resp.Conversation.PhoneNumber, "+15551234567")
}

func TestSend_GatewayRejection(t *testing.T) {
	srv := newTestServer(t, 0.0)

	rec := srv.do(t, http.MethodPost, "/api/sms/send", map[string]string{
		"to":      "+15551234567",
		"message": "Hello",
	})
	testutil.AssertStatusCode(t, rec, http.StatusBadGateway)

	var resp SendResponse
	testutil.ParseJSONResponse(t, rec, &resp)
	testutil.AssertEqual(t, resp.Success, false)
	testutil.AssertEqual(t, resp.Error.Code, "GATEWAY_ERROR")
	testutil.AssertEqual(t, resp.Message.Status, models.MessageStatusFailed)
	testutil.AssertEqual(t, srv.mem.MessageCount(), 1)
}

func TestSend_Validation(t *testing.T) {
	srv := newTestServer(t, 1.0)

	rec := srv.do(t, http.MethodPost, "/api/sms/send", map[string]string{"to": "+15551234567"})
	testutil.AssertStatusCode(t, rec, http.StatusBadRequest)

	var resp ErrorResponse
	testutil.ParseJSONResponse(t, rec, &resp)
	testutil.AssertEqual(t, resp.Error.Code, "VALIDATION_ERROR")
	testutil.AssertEqual(t, srv.mem.MessageCount(), 0)
}

func TestSend_RequiresToken(t *testing.T) {
	srv := newTestServer(t, 1.0)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/sms/send", map[string]string{"to": "+15551234567", "message": "hi"})
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec, http.StatusUnauthorized)
	testutil.AssertEqual(t, srv.mem.MessageCount(), 0)
}

func TestSendBulk(t *testing.T) {
	srv := newTestServer(t, 1.0)

	rec := srv.do(t, http.MethodPut, "/api/sms/send", map[string]interface{}{
		"recipients": []string{"+15550000001", "+15550000002", "bad"},
		"message":    "Promo",
		"delay":      0,
	})
	testutil.AssertStatusCode(t, rec, http.StatusOK)

	var resp BulkResponse
	testutil.ParseJSONResponse(t, rec, &resp)
	testutil.AssertEqual(t, resp.Summary.Total, 3)
	testutil.AssertEqual(t, resp.Summary.Successful, 2)
	testutil.AssertEqual(t, resp.Summary.Failed, 1)
	testutil.AssertEqual(t, resp.Success, false)

	rec = srv.do(t, http.MethodPost, "/api/sms/bulk", map[string]interface{}{
		"recipients": []string{},
		"message":    "Promo",
	})
	testutil.AssertStatusCode(t, rec, http.StatusBadRequest)
}

func TestWebhook_ReceiveAndList(t *testing.T) {
	srv := newTestServer(t, 1.0)

	body := `{"data":{"event_type":"message.received","id":"evt-1","occurred_at":"2026-01-02T10:00:00Z","payload":{"id":"in-1","from":{"phone_number":"+15551234567"},"to":[{"phone_number":"+15550001111"}],"text":"Hi"}}}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/telnyx", strings.NewReader(body))
		rec := httptest.NewRecorder()
		srv.handler.ServeHTTP(rec, req)
		testutil.AssertStatusCode(t, rec, http.StatusOK)
	}
	testutil.AssertEqual(t, srv.mem.MessageCount(), 1)

	rec := srv.do(t, http.MethodGet, "/api/conversations", nil)
	testutil.AssertStatusCode(t, rec, http.StatusOK)

	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	testutil.ParseJSONResponse(t, rec, &resp)
	testutil.AssertEqual(t, len(resp.Conversations), 1)
	testutil.AssertEqual(t, resp.Conversations[0].UnreadCount, 1)
}

func TestWebhook_RejectsUnknownEvent(t *testing.T) {
	srv := newTestServer(t, 1.0)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/telnyx",
		strings.NewReader(`{"data":{"event_type":"call.initiated","id":"evt-1","payload":{"id":"x"}}}`))
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec, http.StatusBadRequest)
	var resp ErrorResponse
	testutil.ParseJSONResponse(t, rec, &resp)
	testutil.AssertEqual(t, resp.Error.Code, "INVALID_PAYLOAD")
}

func TestWebhook_StatusForUnknownMessageIsAcknowledged(t *testing.T) {
	srv := newTestServer(t, 1.0)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/telnyx",
		strings.NewReader(`{"data":{"event_type":"message.delivered","id":"evt-1","payload":{"id":"nobody"}}}`))
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec, http.StatusOK)
}

func TestWebhook_EndpointStatus(t *testing.T) {
	srv := newTestServer(t, 1.0)

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/telnyx", nil))
	testutil.AssertStatusCode(t, rec, http.StatusOK)
	testutil.AssertContains(t, rec.Body.String(), "webhook endpoint active")
}

func TestConversation_InvalidID(t *testing.T) {
	srv := newTestServer(t, 1.0)

	rec := srv.do(t, http.MethodGet, "/api/conversations/not-a-uuid", nil)
	testutil.AssertStatusCode(t, rec, http.StatusBadRequest)

	rec = srv.do(t, http.MethodGet, "/api/conversations/c0a80101-0000-4000-8000-00000000ffff/messages", nil)
	testutil.AssertStatusCode(t, rec, http.StatusNotFound)
}

func TestConversation_CreateAndMarkRead(t *testing.T) {
	srv := newTestServer(t, 1.0)

	rec := srv.do(t, http.MethodPost, "/api/conversations", map[string]string{"phone_number": "555-123-4567", "name": "Ada"})
	testutil.AssertStatusCode(t, rec, http.StatusOK)

	var conv models.Conversation
	testutil.ParseJSONResponse(t, rec, &conv)
	testutil.AssertEqual(t, conv.PhoneNumber, "+15551234567")

	rec = srv.do(t, http.MethodPost, fmt.Sprintf("/api/conversations/%s/read", conv.ID), nil)
	testutil.AssertStatusCode(t, rec, http.StatusOK)
	testutil.ParseJSONResponse(t, rec, &conv)
	if conv.LastReadAt == nil {
		t.Error("Expected last_read_at to be set")
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, 1.0)

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertStatusCode(t, rec, http.StatusOK)

	var status service.HealthStatus
	testutil.ParseJSONResponse(t, rec, &status)
	testutil.AssertEqual(t, status.Status, service.StatusHealthy)
}

func TestStream_DeliversEvents(t *testing.T) {
	srv := newTestServer(t, 1.0)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/stream?access_token="+srv.token, nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handler.ServeHTTP(rec, req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	testutil.AssertEqual(t, srv.hub.SubscriberCount(), 1)

	conv := testutil.NewTestConversation("+15551234567")
	_ = srv.hub.Publish(context.Background(), realtime.NewConversationEvent(realtime.ConversationUpdated, conv))

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	testutil.AssertContains(t, body, "event: connected")
	testutil.AssertContains(t, body, "event: conversation.updated")
	testutil.AssertEqual(t, rec.Header().Get("Content-Type"), "text/event-stream")
	testutil.AssertEqual(t, srv.hub.SubscriberCount(), 0)

	var parsed map[string]interface{}
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, conv.ID) {
			testutil.AssertNoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &parsed))
		}
	}
	testutil.AssertEqual(t, parsed["type"], "conversation.updated")
}
