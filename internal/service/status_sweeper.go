package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"smsinbox/internal/gateway"
	"smsinbox/internal/models"
	"smsinbox/internal/repository"
	"smsinbox/pkg/logger"
)

// SweepResult counts what one sweep did
type SweepResult struct {
	Checked int
	Applied int
	Skipped int
	Errors  int
}

// StatusSweeper asks the gateway about outbound messages whose callbacks
// never arrived and feeds the answers through the reconciler
type StatusSweeper struct {
	messages   repository.MessageRepository
	gateway    gateway.Sender
	reconciler *Reconciler
	staleAfter time.Duration
	batchSize  int
	log        *logger.Logger
}

// NewStatusSweeper creates a sweeper
func NewStatusSweeper(messages repository.MessageRepository, gw gateway.Sender, reconciler *Reconciler, staleAfter time.Duration, batchSize int, log *logger.Logger) *StatusSweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &StatusSweeper{
		messages:   messages,
		gateway:    gw,
		reconciler: reconciler,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		log:        log,
	}
}

// providerStatus maps the gateway's status vocabulary onto ours
func providerStatus(s string) (models.MessageStatus, bool) {
	switch s {
	case "sent":
		return models.MessageStatusSent, true
	case "delivered":
		return models.MessageStatusDelivered, true
	case "delivery_failed", "sending_failed":
		return models.MessageStatusFailed, true
	default:
		return "", false
	}
}

// Sweep checks one batch of stale messages
func (s *StatusSweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	cutoff := time.Now().UTC().Add(-s.staleAfter)
	stale, err := s.messages.ListStale(ctx,
		[]models.MessageStatus{models.MessageStatusPending, models.MessageStatusSent},
		cutoff, s.batchSize)
	if err != nil {
		return nil, &PersistenceError{Op: "list stale messages", Err: err}
	}

	ids := make([]string, len(stale))
	for i, m := range stale {
		ids[i] = m.ID
	}
	if err := s.messages.MarkStatusChecked(ctx, ids, time.Now().UTC()); err != nil {
		return nil, &PersistenceError{Op: "mark status checked", Err: err}
	}

	result := &SweepResult{}
	for _, m := range stale {
		if ctx.Err() != nil {
			break
		}
		result.Checked++

		providerID := m.ProviderID()
		status, err := s.gateway.MessageStatus(ctx, providerID)
		if err != nil {
			result.Errors++
			s.log.Warn("failed to fetch gateway status",
				zap.String("provider_message_id", providerID),
				zap.Error(err),
			)
			continue
		}

		target, ok := providerStatus(status.Status)
		if !ok || target == m.Status {
			result.Skipped++
			continue
		}

		t := Transition{ProviderMessageID: providerID, Target: target}
		if status.CompletedAt != nil {
			t.OccurredAt = *status.CompletedAt
		}
		if target == models.MessageStatusFailed {
			t.ErrorDetail = "delivery failed"
			if len(status.Errors) > 0 {
				t.ErrorDetail = status.Errors[0]
			}
		}

		applied, err := s.reconciler.Apply(ctx, t)
		if err != nil {
			result.Errors++
			s.log.Error("failed to apply swept status",
				zap.String("provider_message_id", providerID),
				zap.Error(err),
			)
			continue
		}
		if applied.Outcome == TransitionApplied {
			result.Applied++
		} else {
			result.Skipped++
		}
	}

	s.log.Info("status sweep finished",
		zap.Int("checked", result.Checked),
		zap.Int("applied", result.Applied),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors),
	)
	return result, nil
}
