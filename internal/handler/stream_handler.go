package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"smsinbox/internal/realtime"
	"smsinbox/internal/service"
	"smsinbox/pkg/logger"
	"smsinbox/pkg/metrics"
)

// StreamHandler pushes fan-out events to dashboards over server-sent events.
// Nothing is replayed: a client re-fetches state after "connected".
type StreamHandler struct {
	hub           *realtime.Hub
	conversations *service.ConversationService
	heartbeat     time.Duration
	log           *logger.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(hub *realtime.Hub, conversations *service.ConversationService, heartbeat time.Duration, log *logger.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &StreamHandler{
		hub:           hub,
		conversations: conversations,
		heartbeat:     heartbeat,
		log:           log,
	}
}

// StreamAll handles GET /api/stream
func (h *StreamHandler) StreamAll(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, h.hub.SubscribeAll(), "")
}

// StreamConversation handles GET /api/conversations/{id}/stream
func (h *StreamHandler) StreamConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	if _, err := h.conversations.Get(r.Context(), id); err != nil {
		HandleServiceError(w, err)
		return
	}
	h.stream(w, r, h.hub.Subscribe(id), id)
}

func (h *StreamHandler) stream(w http.ResponseWriter, r *http.Request, sub *realtime.Subscription, conversationID string) {
	defer sub.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	log := h.log.With(zap.String("conversation_id", conversationID))
	log.Debug("stream opened")

	writeSSE(w, "connected", map[string]string{"conversation_id": conversationID})
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug("stream closed by client")
			return

		case <-heartbeat.C:
			writeSSE(w, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			flusher.Flush()

		case event, open := <-sub.Events():
			if !open {
				if sub.Evicted() {
					writeSSE(w, "resync", map[string]string{"reason": "subscriber fell behind"})
					flusher.Flush()
					log.Info("stream evicted")
				}
				return
			}
			writeSSE(w, string(event.Type), event)
			flusher.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer
func writeSSE(w io.Writer, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
