package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	docs "webhook-bridge/docs"
	appjournal "webhook-bridge/internal/application/service/journal"
	apptrading "webhook-bridge/internal/application/service/trading"
	"webhook-bridge/internal/config"
	interfaces "webhook-bridge/internal/domain/interfaces"
	infraevents "webhook-bridge/internal/infrastructure/events"
	infrajournal "webhook-bridge/internal/infrastructure/journal"
	"webhook-bridge/internal/infrastructure/positions"
	"webhook-bridge/internal/infrastructure/xapi"
	infrahttp "webhook-bridge/internal/interfaces/http"
	"webhook-bridge/internal/pkg/retry"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.LogLevel)
	}
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	docs.SwaggerInfo.BasePath = "/"
	docs.SwaggerInfo.Host = cfg.HTTP.Addr()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var positionStore interfaces.PositionRepository
	switch cfg.Positions.Store {
	case config.StoreRedis:
		positionStore = positions.NewRedisStore(redisClient, positions.RedisConfig{
			LockTTL:  cfg.Positions.LockTTL,
			LockWait: cfg.Positions.LockWait,
		}, logger)
	case config.StoreMemory:
		positionStore = positions.NewMemoryStore()
	}

	var publisher interfaces.EventPublisher
	if cfg.RabbitMQ.URL != "" {
		pub, err := infraevents.NewPublisher(cfg.RabbitMQ, logger)
		if err != nil {
			logger.Fatalf("failed to init trade event publisher: %v", err)
		}
		defer pub.Close()
		publisher = pub
	}

	var journalService *appjournal.Service
	if cfg.Postgres.DSN != "" {
		journalRepo, err := infrajournal.NewRepository(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.Fatalf("failed to init journal repo: %v", err)
		}
		if err := journalRepo.EnsureSchema(ctx); err != nil {
			logger.Fatalf("failed to prepare journal schema: %v", err)
		}
		journalService = appjournal.NewService(journalRepo)
		defer journalService.Close()
	}

	session := xapi.NewSession(xapi.SessionConfig{
		UserID:   cfg.Broker.UserID,
		Password: cfg.Broker.Password,
		AppName:  cfg.Broker.AppName,
		TTL:      cfg.Broker.SessionTTL,
		Retry: retry.Config{
			Attempts: cfg.Broker.AuthAttempts,
			Delay:    cfg.Broker.AuthDelay,
			MaxDelay: cfg.Broker.AuthMaxDelay,
			Backoff:  retry.ParseBackoff(cfg.Broker.AuthBackoff),
		},
	}, newTransportFactory(cfg.Broker, logger), logger)
	broker := xapi.NewBroker(session, logger)

	tradeService := apptrading.NewService(
		broker,
		positionStore,
		publisher,
		apptrading.NewSymbolMapper(cfg.Trading.SymbolMap),
		apptrading.Config{
			PriceMode: apptrading.PriceMode(cfg.Trading.PriceMode),
			SellMode:  apptrading.SellMode(cfg.Trading.SellMode),
		},
		logger,
	)

	handler := infrahttp.NewHandler(tradeService, infrahttp.Options{
		Journal:        journalService,
		Cache:          redisClient,
		CacheTTL:       time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		RequestTimeout: cfg.Broker.RequestTimeout,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"addr":      cfg.HTTP.Addr(),
			"transport": cfg.Broker.Transport,
			"positions": cfg.Positions.Store,
			"sell_mode": cfg.Trading.SellMode,
		}).Info("webhook listener started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return tradeService.KeepAlive(gctx, cfg.Broker.KeepAliveInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("server shutdown error: %v", err)
		}
		if err := tradeService.Close(shutdownCtx); err != nil {
			logger.Errorf("broker logout error: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("http server error: %v", err)
	}
	logger.Info("server stopped")
}

func newTransportFactory(cfg config.BrokerConfig, logger *logrus.Logger) xapi.TransportFactory {
	if cfg.Transport == config.TransportHTTP {
		return func() xapi.Transport {
			return xapi.NewHTTPClient(cfg.URL, cfg.ClientTimeout, logger)
		}
	}
	clientCfg := xapi.ClientConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		TLS:             cfg.TLS,
		ConnectAttempts: cfg.ConnectAttempts,
		ConnectDelay:    cfg.ConnectDelay,
		SendDelay:       cfg.SendDelay,
		CommandInterval: cfg.CommandInterval,
	}
	return func() xapi.Transport {
		return xapi.NewClient(clientCfg, logger)
	}
}
