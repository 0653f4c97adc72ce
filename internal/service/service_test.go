package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"smsinbox/internal/gateway"
	"smsinbox/internal/phone"
	"smsinbox/internal/realtime"
	"smsinbox/internal/testutil"
	"smsinbox/pkg/logger"
)

const ownNumber = "+15550001111"

// fakeGateway accepts every send unless a failure is scripted for the recipient
type fakeGateway struct {
	mu       sync.Mutex
	sends    []string
	failures map[string]error
	statuses map[string]*gateway.Status
	seq      int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		failures: make(map[string]error),
		statuses: make(map[string]*gateway.Status),
	}
}

func (g *fakeGateway) From() string { return ownNumber }

func (g *fakeGateway) Send(_ context.Context, to, _ string) (*gateway.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sends = append(g.sends, to)
	if err, ok := g.failures[to]; ok {
		return nil, err
	}
	g.seq++
	return &gateway.SendResult{MessageID: fmt.Sprintf("prov-%d", g.seq), Status: "queued"}, nil
}

func (g *fakeGateway) MessageStatus(_ context.Context, messageID string) (*gateway.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.statuses[messageID]; ok {
		return s, nil
	}
	return nil, &gateway.Error{StatusCode: 404, Detail: "message not found"}
}

func (g *fakeGateway) sendCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sends)
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count(eventType realtime.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	mem        *testutil.MemoryStore
	gw         *fakeGateway
	pub        *recordingPublisher
	store      *MessageStore
	registry   *ConversationRegistry
	reconciler *Reconciler
	dispatcher *Dispatcher
	slept      int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.NewNop()

	h := &harness{
		mem: testutil.NewMemoryStore(),
		gw:  newFakeGateway(),
		pub: &recordingPublisher{},
	}
	h.store = NewMessageStore(h.mem.Messages, h.pub, log)
	h.registry = NewConversationRegistry(h.mem.Conversations, h.store, phone.NewNormalizer("1"), log)
	h.reconciler = NewReconciler(h.store, log)
	h.dispatcher = NewDispatcher(h.gw, h.registry, h.store, 0, DefaultBulkDelay, log)
	h.dispatcher.sleep = func(ctx context.Context, _ time.Duration) error {
		h.slept++
		return ctx.Err()
	}
	return h
}
