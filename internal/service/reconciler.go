package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"smsinbox/internal/models"
	"smsinbox/internal/repository"
	"smsinbox/pkg/logger"
	"smsinbox/pkg/metrics"
)

// TransitionOutcome says what happened to a requested status change
type TransitionOutcome string

const (
	// TransitionApplied means the message moved to the target status
	TransitionApplied TransitionOutcome = "applied"
	// TransitionDuplicate means the message was already at the target status
	TransitionDuplicate TransitionOutcome = "duplicate"
	// TransitionRejected means the change would have moved the message backwards
	TransitionRejected TransitionOutcome = "rejected"
	// TransitionNotFound means no message carries the provider id
	TransitionNotFound TransitionOutcome = "not_found"
)

// Transition is a requested status change keyed on the gateway's message id
type Transition struct {
	ProviderMessageID string
	Target            models.MessageStatus
	OccurredAt        time.Time
	ErrorDetail       string
}

// TransitionResult reports the outcome and the message as it now stands
type TransitionResult struct {
	Outcome TransitionOutcome
	Message *models.Message
}

// Reconciler applies status transitions in whatever order they arrive.
// Forward skips are accepted; anything that would leave a terminal state
// is logged and ignored.
type Reconciler struct {
	store *MessageStore
	log   *logger.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(store *MessageStore, log *logger.Logger) *Reconciler {
	return &Reconciler{store: store, log: log}
}

// Apply performs one conditional transition. Only storage failures are errors.
func (r *Reconciler) Apply(ctx context.Context, t Transition) (*TransitionResult, error) {
	if t.ProviderMessageID == "" {
		return nil, &ValidationError{Message: "provider message id is required"}
	}
	sources := models.AllowedSources(t.Target)
	if len(sources) == 0 {
		return nil, &ValidationError{Message: "status " + string(t.Target) + " cannot be reached by a transition"}
	}

	update := repository.StatusUpdate{
		ProviderMessageID: t.ProviderMessageID,
		Status:            t.Target,
		From:              sources,
	}
	if t.Target == models.MessageStatusDelivered {
		at := t.OccurredAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		update.DeliveredAt = &at
	}
	if t.ErrorDetail != "" {
		detail := t.ErrorDetail
		update.ErrorDetail = &detail
	}

	fields := []zap.Field{
		zap.String("provider_message_id", t.ProviderMessageID),
		zap.String("target_status", string(t.Target)),
	}

	message, applied, err := r.store.AdvanceStatus(ctx, update)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		r.log.Info("no message for status update", fields...)
		metrics.RecordTransition(string(t.Target), string(TransitionNotFound))
		return &TransitionResult{Outcome: TransitionNotFound}, nil
	case err != nil:
		metrics.RecordTransition(string(t.Target), "error")
		return nil, err
	}

	result := &TransitionResult{Message: message}
	switch {
	case applied:
		result.Outcome = TransitionApplied
		r.log.Debug("status advanced", append(fields, zap.String("message_id", message.ID))...)
	case message.Status == t.Target:
		result.Outcome = TransitionDuplicate
		r.log.Debug("status already applied", fields...)
	default:
		result.Outcome = TransitionRejected
		r.log.Warn("ignoring backward status transition",
			append(fields, zap.String("current_status", string(message.Status)))...)
	}

	metrics.RecordTransition(string(t.Target), string(result.Outcome))
	return result, nil
}
