package handler

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"smsinbox/internal/service"
)

// ConversationHandler serves the inbox views
type ConversationHandler struct {
	conversations *service.ConversationService
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversations *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

type createConversationRequest struct {
	PhoneNumber string  `json:"phone_number"`
	Name        *string `json:"name,omitempty"`
}

// pagination reads limit and offset query parameters
func pagination(r *http.Request) (limit, offset int) {
	query := r.URL.Query()
	if v, err := strconv.Atoi(query.Get("limit")); err == nil {
		limit = v
	}
	if v, err := strconv.Atoi(query.Get("offset")); err == nil {
		offset = v
	}
	return service.ClampPage(limit, offset)
}

// conversationID extracts and validates the {id} path variable
func conversationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		WriteValidationError(w, "invalid conversation ID")
		return "", false
	}
	return id, true
}

// List handles GET /api/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	summaries, err := h.conversations.List(r.Context(), limit, offset)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	_ = WriteOK(w, map[string]interface{}{
		"conversations": summaries,
		"limit":         limit,
		"offset":        offset,
	})
}

// Create handles POST /api/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PhoneNumber == "" {
		WriteValidationError(w, "phone_number is required")
		return
	}

	conversation, err := h.conversations.GetOrCreate(r.Context(), req.PhoneNumber, req.Name)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	_ = WriteOK(w, conversation)
}

// Get handles GET /api/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	conversation, err := h.conversations.Get(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	_ = WriteOK(w, conversation)
}

// Messages handles GET /api/conversations/{id}/messages
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)

	messages, err := h.conversations.Messages(r.Context(), id, limit, offset)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	_ = WriteOK(w, map[string]interface{}{
		"messages": messages,
		"limit":    limit,
		"offset":   offset,
	})
}

// MarkRead handles POST /api/conversations/{id}/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	conversation, err := h.conversations.MarkRead(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	_ = WriteOK(w, conversation)
}
