// Package cache holds Redis-backed helpers.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeliveryLedger remembers which gateway callbacks were already processed,
// so a redelivered callback can be acknowledged without touching the
// database. The database constraints stay authoritative; the ledger only
// saves work.
type DeliveryLedger struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDeliveryLedger creates a ledger whose claims expire after ttl
func NewDeliveryLedger(rdb *redis.Client, ttl time.Duration) *DeliveryLedger {
	return &DeliveryLedger{rdb: rdb, ttl: ttl}
}

func ledgerKey(eventID string) string {
	return "webhook:event:" + eventID
}

// Claim marks eventID as in progress. It returns false if it was already claimed.
func (l *DeliveryLedger) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, ledgerKey(eventID), time.Now().UTC().Format(time.RFC3339Nano), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim event %s: %w", eventID, err)
	}
	return ok, nil
}

// Release forgets a claim so a redelivery is processed again
func (l *DeliveryLedger) Release(ctx context.Context, eventID string) error {
	if err := l.rdb.Del(ctx, ledgerKey(eventID)).Err(); err != nil {
		return fmt.Errorf("failed to release event %s: %w", eventID, err)
	}
	return nil
}

// Ping checks the Redis connection
func (l *DeliveryLedger) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}
