package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"smsinbox/internal/gateway"
	"smsinbox/internal/models"
	"smsinbox/internal/phone"
	"smsinbox/pkg/logger"
	"smsinbox/pkg/metrics"
)

const (
	// MaxBodyLength is the longest text accepted for one send
	MaxBodyLength = 1600
	// MaxBulkRecipients caps one bulk request
	MaxBulkRecipients = 100
	// DefaultBulkDelay separates consecutive sends in a bulk request
	DefaultBulkDelay = time.Second
	// MaxBulkDelay bounds a caller-supplied delay
	MaxBulkDelay = time.Minute
)

// SendRequest is one outbound message
type SendRequest struct {
	To             string
	Body           string
	ConversationID string
}

// Validate checks the request fields
func (r *SendRequest) Validate() error {
	if strings.TrimSpace(r.To) == "" && r.ConversationID == "" {
		return errors.New("to is required")
	}
	if strings.TrimSpace(r.Body) == "" {
		return errors.New("message is required")
	}
	if !utf8.ValidString(r.Body) {
		return errors.New("message must be valid UTF-8")
	}
	if utf8.RuneCountInString(r.Body) > MaxBodyLength {
		return fmt.Errorf("message must be at most %d characters", MaxBodyLength)
	}
	return nil
}

// SendOutcome is the result of one dispatch. A gateway rejection is not an
// error: Success is false, Message holds the stored failed record and
// GatewayError carries the provider's detail.
type SendOutcome struct {
	Success      bool
	Message      *models.Message
	Conversation *models.Conversation
	GatewayError *GatewayError
}

// BulkSendRequest sends the same text to many numbers
type BulkSendRequest struct {
	Recipients []string
	Body       string
	Delay      *time.Duration
}

// Validate checks the request fields
func (r *BulkSendRequest) Validate() error {
	if len(r.Recipients) == 0 {
		return errors.New("recipients must be a non-empty array")
	}
	if len(r.Recipients) > MaxBulkRecipients {
		return fmt.Errorf("maximum %d recipients per bulk request", MaxBulkRecipients)
	}
	if r.Delay != nil && (*r.Delay < 0 || *r.Delay > MaxBulkDelay) {
		return fmt.Errorf("delay must be between 0 and %d milliseconds", MaxBulkDelay.Milliseconds())
	}
	single := SendRequest{To: "placeholder", Body: r.Body}
	return single.Validate()
}

// BulkResult is one recipient's outcome
type BulkResult struct {
	Recipient         string          `json:"recipient"`
	Success           bool            `json:"success"`
	MessageID         string          `json:"messageId,omitempty"`
	ProviderMessageID string          `json:"providerMessageId,omitempty"`
	Message           *models.Message `json:"message,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// BulkSummary aggregates a bulk request
type BulkSummary struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// BulkOutcome holds per-recipient results in request order
type BulkOutcome struct {
	Results []BulkResult `json:"results"`
	Summary BulkSummary  `json:"summary"`
}

// Dispatcher submits messages to the gateway and records the result
type Dispatcher struct {
	gateway   gateway.Sender
	registry  *ConversationRegistry
	store     *MessageStore
	timeout   time.Duration
	bulkDelay time.Duration
	log       *logger.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher. timeout bounds every gateway call.
func NewDispatcher(gw gateway.Sender, registry *ConversationRegistry, store *MessageStore, timeout, bulkDelay time.Duration, log *logger.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if bulkDelay < 0 {
		bulkDelay = DefaultBulkDelay
	}
	return &Dispatcher{
		gateway:   gw,
		registry:  registry,
		store:     store,
		timeout:   timeout,
		bulkDelay: bulkDelay,
		log:       log,
		sleep:     sleepContext,
	}
}

// Send dispatches one message
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*SendOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	conversation, to, err := d.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	message := &models.Message{
		ConversationID: conversation.ID,
		Direction:      models.DirectionOutbound,
		FromNumber:     d.gateway.From(),
		ToNumber:       to,
		Body:           req.Body,
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	start := time.Now()
	result, sendErr := d.gateway.Send(sendCtx, to, req.Body)
	cancel()
	latency := time.Since(start)

	outcome := &SendOutcome{}
	fields := []zap.Field{
		zap.String("conversation_id", conversation.ID),
		zap.String("to", to),
		zap.Duration("latency", latency),
	}

	if sendErr != nil {
		gwErr := toGatewayError(sendErr)
		detail := gwErr.Error()
		message.Status = models.MessageStatusFailed
		message.ErrorDetail = &detail
		outcome.GatewayError = gwErr

		d.log.Warn("gateway rejected send", append(fields, zap.Error(sendErr))...)
		metrics.RecordDispatch("failed", latency.Seconds())
	} else {
		providerID := result.MessageID
		message.Status = models.MessageStatusPending
		message.ProviderMessageID = &providerID
		outcome.Success = true

		d.log.Info("message dispatched", append(fields, zap.String("provider_message_id", providerID))...)
		metrics.RecordDispatch("accepted", latency.Seconds())
	}

	updated, err := d.store.RecordOutbound(ctx, message)
	if err != nil {
		d.log.Error("failed to record dispatched message",
			append(fields, zap.String("provider_message_id", message.ProviderID()), zap.Error(err))...)
		return nil, err
	}

	outcome.Message = message
	outcome.Conversation = updated
	return outcome, nil
}

func (d *Dispatcher) resolveConversation(ctx context.Context, req SendRequest) (*models.Conversation, string, error) {
	to := ""
	if strings.TrimSpace(req.To) != "" {
		to = d.registry.Normalize(req.To)
		if !phone.Valid(to) {
			return nil, "", &ValidationError{Message: "invalid phone number: " + req.To}
		}
	}

	if req.ConversationID != "" {
		conversation, err := d.registry.Get(ctx, req.ConversationID)
		if err != nil {
			return nil, "", err
		}
		if to == "" {
			to = conversation.PhoneNumber
		} else if to != conversation.PhoneNumber {
			return nil, "", &ValidationError{Message: "to does not match the conversation's phone number"}
		}
		return conversation, to, nil
	}

	conversation, err := d.registry.GetOrCreate(ctx, to, nil)
	if err != nil {
		return nil, "", err
	}
	return conversation, to, nil
}

// SendBulk sends to each recipient in order, pausing between sends. One
// recipient's failure does not stop the rest.
func (d *Dispatcher) SendBulk(ctx context.Context, req BulkSendRequest) (*BulkOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	delay := d.bulkDelay
	if req.Delay != nil {
		delay = *req.Delay
	}

	outcome := &BulkOutcome{Results: make([]BulkResult, 0, len(req.Recipients))}
	for i, recipient := range req.Recipients {
		if i > 0 && delay > 0 {
			if err := d.sleep(ctx, delay); err != nil {
				for _, rest := range req.Recipients[i:] {
					outcome.Results = append(outcome.Results, BulkResult{Recipient: rest, Error: "cancelled"})
				}
				break
			}
		}
		outcome.Results = append(outcome.Results, d.sendOne(ctx, recipient, req.Body))
	}

	for _, r := range outcome.Results {
		if r.Success {
			outcome.Summary.Successful++
		} else {
			outcome.Summary.Failed++
		}
	}
	outcome.Summary.Total = len(outcome.Results)

	d.log.Info("bulk send finished",
		zap.Int("successful", outcome.Summary.Successful),
		zap.Int("failed", outcome.Summary.Failed),
		zap.Int("total", outcome.Summary.Total),
	)
	return outcome, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, recipient, body string) BulkResult {
	result := BulkResult{Recipient: recipient}

	sent, err := d.Send(ctx, SendRequest{To: recipient, Body: body})
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Message = sent.Message
	result.MessageID = sent.Message.ID
	result.ProviderMessageID = sent.Message.ProviderID()
	result.Success = sent.Success
	if sent.GatewayError != nil {
		result.Error = sent.GatewayError.Error()
	}
	return result
}

func toGatewayError(err error) *GatewayError {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return &GatewayError{StatusCode: gwErr.StatusCode, Timeout: gwErr.Timeout, Detail: gwErr.Detail}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &GatewayError{Timeout: true, Detail: err.Error()}
	}
	return &GatewayError{Detail: err.Error()}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
