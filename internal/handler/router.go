package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smsinbox/internal/middleware"
	"smsinbox/pkg/logger"
)

// RouterConfig holds the handlers and policies the router wires together
type RouterConfig struct {
	Send          *SendHandler
	Webhook       *WebhookHandler
	Conversations *ConversationHandler
	Stream        *StreamHandler
	Health        *HealthHandler

	JWTSecret      string
	RateLimit      int
	RateWindow     time.Duration
	AllowedOrigins []string
	Log            *logger.Logger
}

// NewRouter builds the HTTP surface. Webhooks, health and metrics are
// public; everything under /api requires a bearer token.
func NewRouter(cfg RouterConfig) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Recovery(cfg.Log))
	router.Use(middleware.Logging(cfg.Log))

	router.HandleFunc("/health", cfg.Health.HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/webhooks/telnyx", cfg.Webhook.Receive).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/telnyx", cfg.Webhook.Status).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth(cfg.JWTSecret))

	send := api.PathPrefix("/sms").Subrouter()
	if cfg.RateLimit > 0 {
		send.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateWindow))
	}
	send.HandleFunc("/send", cfg.Send.Send).Methods(http.MethodPost)
	send.HandleFunc("/send", cfg.Send.SendBulk).Methods(http.MethodPut)
	send.HandleFunc("/bulk", cfg.Send.SendBulk).Methods(http.MethodPost)

	api.HandleFunc("/conversations", cfg.Conversations.List).Methods(http.MethodGet)
	api.HandleFunc("/conversations", cfg.Conversations.Create).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}", cfg.Conversations.Get).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", cfg.Conversations.Messages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/read", cfg.Conversations.MarkRead).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/stream", cfg.Stream.StreamConversation).Methods(http.MethodGet)
	api.HandleFunc("/stream", cfg.Stream.StreamAll).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	if len(cfg.AllowedOrigins) == 0 {
		return router
	}
	return middleware.CORS(cfg.AllowedOrigins)(router)
}
