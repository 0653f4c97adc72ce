package handler

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"smsinbox/internal/gateway"
	"smsinbox/internal/service"
	"smsinbox/pkg/logger"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives gateway callbacks
type WebhookHandler struct {
	processor *service.WebhookProcessor
	log       *logger.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(processor *service.WebhookProcessor, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{processor: processor, log: log}
}

// Receive handles POST /webhooks/telnyx. The raw body is passed through
// untouched because the signature covers its exact bytes.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.log.Warn("failed to read webhook body", zap.Error(err))
		WriteError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "could not read request body")
		return
	}

	result, err := h.processor.Process(r.Context(), service.Callback{
		Signature: r.Header.Get(gateway.SignatureHeader),
		Timestamp: r.Header.Get(gateway.TimestampHeader),
		Body:      body,
	})
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	_ = WriteOK(w, map[string]interface{}{
		"received": true,
		"result":   result,
	})
}

// Status handles GET /webhooks/telnyx
func (h *WebhookHandler) Status(w http.ResponseWriter, r *http.Request) {
	_ = WriteOK(w, map[string]string{"status": "webhook endpoint active"})
}
