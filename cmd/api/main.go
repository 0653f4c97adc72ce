package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"smsinbox/internal/cache"
	"smsinbox/internal/config"
	"smsinbox/internal/gateway"
	"smsinbox/internal/handler"
	"smsinbox/internal/phone"
	"smsinbox/internal/queue"
	"smsinbox/internal/realtime"
	"smsinbox/internal/repository"
	"smsinbox/internal/service"
	"smsinbox/pkg/logger"
)

var version = "dev"

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
		log.Fatal("api server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("connected to database", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	hub := realtime.NewHub(cfg.Realtime.SubscriberBuffer, log.Named("hub"))

	relay, health, err := connectRelay(cfg, hub, log)
	if err != nil {
		return err
	}
	var publisher realtime.Publisher = hub
	if relay != nil {
		defer relay.Close()
		publisher = relay
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("realtime relay stopped", zap.Error(err))
			}
		}()
		log.Info("realtime relay started", zap.String("relay", cfg.Realtime.Relay))
	}

	var (
		ledger       service.DeliveryLedger
		ledgerHealth service.Pinger
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		l := cache.NewDeliveryLedger(rdb, cfg.Webhook.LedgerTTL)
		ledger, ledgerHealth = l, l
		log.Info("webhook delivery ledger enabled", zap.String("addr", cfg.Redis.Addr))
	}

	gw := newGateway(cfg)
	verifier, err := newVerifier(cfg, log)
	if err != nil {
		return err
	}

	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	store := service.NewMessageStore(messageRepo, publisher, log.Named("store"))
	registry := service.NewConversationRegistry(conversationRepo, store, phone.NewNormalizer(cfg.Gateway.DefaultCountryCode), log.Named("registry"))
	reconciler := service.NewReconciler(store, log.Named("reconciler"))
	dispatcher := service.NewDispatcher(gw, registry, store, cfg.Gateway.Timeout, cfg.Gateway.BulkDelay, log.Named("dispatcher"))
	processor := service.NewWebhookProcessor(verifier, ledger, registry, store, reconciler, gw.From(), log.Named("webhook"))
	conversations := service.NewConversationService(conversationRepo, messageRepo, registry, store, log.Named("conversations"))
	healthService := service.NewHealthService(db, health, ledgerHealth, version, log)

	router := handler.NewRouter(handler.RouterConfig{
		Send:           handler.NewSendHandler(dispatcher),
		Webhook:        handler.NewWebhookHandler(processor, log),
		Conversations:  handler.NewConversationHandler(conversations),
		Stream:         handler.NewStreamHandler(hub, conversations, cfg.Realtime.HeartbeatInterval, log.Named("stream")),
		Health:         handler.NewHealthHandler(healthService),
		JWTSecret:      cfg.Auth.JWTSecret,
		RateLimit:      cfg.RateLimit.Requests,
		RateWindow:     cfg.RateLimit.Window,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Log:            log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
			zap.String("gateway", cfg.Gateway.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("api server stopped")
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.MaxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// connectRelay returns a nil relay and checker when no relay is configured
func connectRelay(cfg *config.Config, hub *realtime.Hub, log *logger.Logger) (*realtime.Relay, service.ConnectionChecker, error) {
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
		return realtime.NewRelay(bus, hub, log.Named("relay")), bus, nil
	case config.RelayNATS:
		broker, err := realtime.ConnectNATS(cfg.NATS.URL, cfg.NATS.Subject, log.Named("nats"))
		if err != nil {
			return nil, nil, err
		}
		return realtime.NewRelay(broker, hub, log.Named("relay")), broker, nil
	default:
		return nil, nil, nil
	}
}

func newGateway(cfg *config.Config) gateway.Sender {
	if cfg.Gateway.Mode == config.GatewayModeSimulated {
		from := cfg.Gateway.FromNumber
		if from == "" {
			from = "+15550000000"
		}
		return gateway.NewSimulator(from, cfg.Gateway.SimulatedSuccess)
	}
	return gateway.NewClient(gateway.Config{
		BaseURL:            cfg.Gateway.BaseURL,
		APIKey:             cfg.Gateway.APIKey,
		FromNumber:         cfg.Gateway.FromNumber,
		MessagingProfileID: cfg.Gateway.MessagingProfileID,
		Timeout:            cfg.Gateway.Timeout,
	})
}

func newVerifier(cfg *config.Config, log *logger.Logger) (service.SignatureVerifier, error) {
	if cfg.SkipsSignatureCheck() {
		log.Warn("webhook signature verification is disabled", zap.String("env", cfg.Env))
		return unverified{log: log}, nil
	}
	return gateway.NewVerifier(cfg.Webhook.PublicKey, cfg.Webhook.Tolerance)
}

// unverified accepts every callback and says so each time
type unverified struct {
	log *logger.Logger
}

func (u unverified) Verify(signature, timestamp string, body []byte) error {
	u.log.Warn("accepting webhook without signature verification", zap.Int("bytes", len(body)))
	return gateway.AcceptAll{}.Verify(signature, timestamp, body)
}
