package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"smsinbox/internal/config"
	"smsinbox/internal/gateway"
	"smsinbox/internal/queue"
	"smsinbox/internal/realtime"
	"smsinbox/internal/repository"
	"smsinbox/internal/service"
	"smsinbox/pkg/logger"
)

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Global().Fatal("failed to load config", zap.Error(err))
	}

	log, err := logger.NewForEnv(cfg.Env, cfg.LogLevel)
	if err != nil {
		logger.Global().Fatal("failed to build logger", zap.Error(err))
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Fatal("worker stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(5)
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	log.Info("connected to database", zap.String("host", cfg.Database.Host))

	publisher, closePublisher, err := newPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer closePublisher()

	if cfg.Gateway.Mode == config.GatewayModeSimulated {
		log.Info("gateway is simulated, nothing to sweep")
		<-ctx.Done()
		return nil
	}
	gw := gateway.NewClient(gateway.Config{
		BaseURL:            cfg.Gateway.BaseURL,
		APIKey:             cfg.Gateway.APIKey,
		FromNumber:         cfg.Gateway.FromNumber,
		MessagingProfileID: cfg.Gateway.MessagingProfileID,
		Timeout:            cfg.Gateway.Timeout,
	})

	messageRepo := repository.NewMessageRepository(db)
	store := service.NewMessageStore(messageRepo, publisher, log.Named("store"))
	reconciler := service.NewReconciler(store, log.Named("reconciler"))
	sweeper := service.NewStatusSweeper(messageRepo, gw, reconciler, cfg.Worker.StaleAfter, cfg.Worker.BatchSize, log.Named("sweeper"))

	scheduler, err := newScheduler(ctx, cfg.Worker.Schedule, sweeper.Sweep, log)
	if err != nil {
		return err
	}
	scheduler.Start()
	log.Info("status sweeper scheduled",
		zap.String("schedule", cfg.Worker.Schedule),
		zap.Duration("stale_after", cfg.Worker.StaleAfter),
	)

	<-ctx.Done()
	log.Info("shutting down, waiting for running sweep")
	<-scheduler.Stop().Done()
	log.Info("worker stopped")
	return nil
}

type sweepFunc func(ctx context.Context) (*service.SweepResult, error)

// newScheduler registers one sweep job. Overlapping runs are skipped.
func newScheduler(ctx context.Context, schedule string, sweep sweepFunc, log *logger.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})))
	_, err := c.AddFunc(schedule, func() {
		started := time.Now()
		result, err := sweep(ctx)
		if err != nil {
			log.Error("status sweep failed", zap.Error(err))
			return
		}
		log.Info("status sweep finished",
			zap.Int("checked", result.Checked),
			zap.Int("applied", result.Applied),
			zap.Int("skipped", result.Skipped),
			zap.Int("errors", result.Errors),
			zap.Duration("took", time.Since(started)),
		)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// newPublisher returns the relay when one is configured. Without a relay
// the worker's events reach nobody, since its hub has no subscribers.
func newPublisher(cfg *config.Config, log *logger.Logger) (realtime.Publisher, func(), error) {
	hub := realtime.NewHub(cfg.Realtime.SubscriberBuffer, log.Named("hub"))

	switch cfg.Realtime.Relay {
	case config.RelayAMQP:
		conn, err := queue.NewConnection(cfg.GetRabbitMQURL(), log.Named("amqp"))
		if err != nil {
			return nil, nil, err
		}
		bus, err := queue.NewEventBus(conn, cfg.RabbitMQ.Exchange, log.Named("amqp"))
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		relay := realtime.NewRelay(bus, hub, log.Named("relay"))
		return relay, func() { relay.Close() }, nil
	case config.RelayNATS:
		broker, err := realtime.ConnectNATS(cfg.NATS.URL, cfg.NATS.Subject, log.Named("nats"))
		if err != nil {
			return nil, nil, err
		}
		relay := realtime.NewRelay(broker, hub, log.Named("relay"))
		return relay, func() { relay.Close() }, nil
	default:
		log.Warn("no realtime relay configured; status updates from the worker will not reach connected clients")
		return hub, func() {}, nil
	}
}

// cronLogger adapts the zap logger to cron's logging interface
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
