package gateway

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Simulator stands in for the provider in local development. Sends succeed
// with the configured probability after a short random latency.
type Simulator struct {
	from        string
	successRate float64
	maxLatency  time.Duration

	mu   sync.Mutex
	rand *rand.Rand
	sent map[string]time.Time
}

// NewSimulator creates a simulator. successRate is clamped to [0, 1].
func NewSimulator(from string, successRate float64) *Simulator {
	if successRate < 0.0 {
		successRate = 0.0
	}
	if successRate > 1.0 {
		successRate = 1.0
	}

	return &Simulator{
		from:        from,
		successRate: successRate,
		maxLatency:  200 * time.Millisecond,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		sent:        make(map[string]time.Time),
	}
}

// WithoutLatency disables the simulated network delay
func (s *Simulator) WithoutLatency() *Simulator {
	s.maxLatency = 0
	return s
}

// From returns the simulated sender number
func (s *Simulator) From() string {
	return s.from
}

var simulatedFailures = []string{
	"network timeout",
	"invalid phone number",
	"rate limit exceeded",
	"service temporarily unavailable",
	"insufficient balance",
}

// Send simulates one provider call
func (s *Simulator) Send(ctx context.Context, to, text string) (*SendResult, error) {
	start := time.Now()

	s.mu.Lock()
	var latency time.Duration
	if s.maxLatency > 0 {
		latency = time.Duration(s.rand.Int63n(int64(s.maxLatency)))
	}
	success := s.rand.Float64() < s.successRate
	reason := simulatedFailures[s.rand.Intn(len(simulatedFailures))]
	s.mu.Unlock()

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return nil, &Error{Timeout: true, Detail: ctx.Err().Error()}
	}

	if !success {
		return nil, &Error{StatusCode: 422, Detail: reason}
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.sent[id] = time.Now()
	s.mu.Unlock()

	return &SendResult{MessageID: id, Status: "queued", Latency: time.Since(start)}, nil
}

// MessageStatus reports every simulated message as delivered
func (s *Simulator) MessageStatus(ctx context.Context, messageID string) (*Status, error) {
	s.mu.Lock()
	sentAt, ok := s.sent[messageID]
	s.mu.Unlock()

	if !ok {
		return nil, &Error{StatusCode: 404, Detail: "message not found"}
	}
	return &Status{MessageID: messageID, Status: "delivered", CompletedAt: &sentAt}, nil
}
