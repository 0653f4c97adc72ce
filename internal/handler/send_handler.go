package handler

import (
	"net/http"
	"time"

	"smsinbox/internal/models"
	"smsinbox/internal/service"
)

// SendHandler handles outbound SMS requests
type SendHandler struct {
	dispatcher *service.Dispatcher
}

// NewSendHandler creates a new send handler
func NewSendHandler(dispatcher *service.Dispatcher) *SendHandler {
	return &SendHandler{dispatcher: dispatcher}
}

type sendRequest struct {
	To             string `json:"to"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

// SendResponse is returned for single sends. A gateway rejection still
// carries the stored failed message so the client can render it.
type SendResponse struct {
	Success      bool                 `json:"success"`
	MessageID    string               `json:"messageId,omitempty"`
	Message      *models.Message      `json:"message,omitempty"`
	Conversation *models.Conversation `json:"conversation,omitempty"`
	Error        *ErrorDetail         `json:"error,omitempty"`
}

type bulkRequest struct {
	Recipients []string `json:"recipients"`
	Message    string   `json:"message"`
	DelayMS    *int64   `json:"delay,omitempty"`
}

// BulkResponse is returned for bulk sends
type BulkResponse struct {
	Success bool                 `json:"success"`
	Results []service.BulkResult `json:"results"`
	Summary service.BulkSummary  `json:"summary"`
}

// Send handles POST /api/sms/send
func (h *SendHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	outcome, err := h.dispatcher.Send(r.Context(), service.SendRequest{
		To:             req.To,
		Body:           req.Message,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	resp := SendResponse{
		Success:      outcome.Success,
		MessageID:    outcome.Message.ProviderID(),
		Message:      outcome.Message,
		Conversation: outcome.Conversation,
	}
	if outcome.GatewayError != nil {
		resp.Error = &ErrorDetail{Code: "GATEWAY_ERROR", Message: outcome.GatewayError.Error()}
		_ = WriteJSON(w, http.StatusBadGateway, resp)
		return
	}
	_ = WriteOK(w, resp)
}

// SendBulk handles PUT /api/sms/send and POST /api/sms/bulk
func (h *SendHandler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	bulk := service.BulkSendRequest{Recipients: req.Recipients, Body: req.Message}
	if req.DelayMS != nil {
		d := time.Duration(*req.DelayMS) * time.Millisecond
		bulk.Delay = &d
	}

	outcome, err := h.dispatcher.SendBulk(r.Context(), bulk)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	_ = WriteOK(w, BulkResponse{
		Success: outcome.Summary.Failed == 0,
		Results: outcome.Results,
		Summary: outcome.Summary,
	})
}
