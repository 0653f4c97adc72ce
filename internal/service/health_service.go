package service

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"smsinbox/pkg/logger"
)

// Health status constants
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusUnhealthy    = "unhealthy"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusDisabled     = "disabled"
)

// HealthStatus represents the overall health status of the application
type HealthStatus struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
}

// Pinger is any optional dependency that can report its connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionChecker is implemented by broker connections
type ConnectionChecker interface {
	IsConnected() bool
}

// HealthChecker handles health check operations
type HealthChecker struct {
	db      *sql.DB
	relay   ConnectionChecker
	ledger  Pinger
	version string
	log     *logger.Logger
}

// NewHealthService creates a new HealthChecker. relay and ledger may be nil
// when those features are off.
func NewHealthService(db *sql.DB, relay ConnectionChecker, ledger Pinger, version string, log *logger.Logger) *HealthChecker {
	return &HealthChecker{
		db:      db,
		relay:   relay,
		ledger:  ledger,
		version: version,
		log:     log,
	}
}

func (h *HealthChecker) checkDatabase(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.log.Warn("database health check failed", zap.Error(err))
		return StatusDisconnected
	}
	return StatusConnected
}

func (h *HealthChecker) checkRelay() string {
	if h.relay == nil {
		return StatusDisabled
	}
	if !h.relay.IsConnected() {
		return StatusDisconnected
	}
	return StatusConnected
}

func (h *HealthChecker) checkLedger(ctx context.Context) string {
	if h.ledger == nil {
		return StatusDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.ledger.Ping(ctx); err != nil {
		h.log.Warn("redis health check failed", zap.Error(err))
		return StatusDisconnected
	}
	return StatusConnected
}

// determineOverallStatus: the database is required, everything else degrades
func (h *HealthChecker) determineOverallStatus(services map[string]string) string {
	if services["database"] == StatusDisconnected {
		return StatusUnhealthy
	}
	for name, status := range services {
		if name != "database" && status == StatusDisconnected {
			return StatusDegraded
		}
	}
	return StatusHealthy
}

// CheckHealth performs health checks on all dependencies
func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	services := map[string]string{
		"database": h.checkDatabase(ctx),
		"relay":    h.checkRelay(),
		"ledger":   h.checkLedger(ctx),
	}

	return &HealthStatus{
		Status:    h.determineOverallStatus(services),
		Services:  services,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}
}
