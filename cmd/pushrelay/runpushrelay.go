package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-relay/internal/credentials"
	"github.com/tinywideclouds/go-push-relay/internal/dispatcher"
	"github.com/tinywideclouds/go-push-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-relay/internal/storage/cache"
	"github.com/tinywideclouds/go-push-relay/internal/telemetry"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"

	"github.com/tinywideclouds/go-push-relay/pushrelay"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"

	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

const serviceVersion = "0.1.0"

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-relay")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Telemetry ---
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "go-push-relay",
		ServiceVersion: serviceVersion,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		logger.Error("Telemetry setup failed", "err", err)
		os.Exit(1)
	}
	instruments, err := telemetry.NewInstruments(nil, nil)
	if err != nil {
		logger.Error("Telemetry instruments failed", "err", err)
		os.Exit(1)
	}

	// --- Credentials (optionally shared through Redis) ---
	var exchanger relay.Exchanger = credentials.NewJWTExchanger(cfg.ServiceIdentity(), cfg.Identity.ExchangeTimeout)
	var redisClient *cache.RedisClient
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis credential cache...", "addr", cfg.Redis.Addr)
		redisClient, err = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		exchanger = cache.NewCachedExchanger(exchanger, redisClient, cfg.Identity.IssuerEmail, cfg.Identity.ExpiryMargin, logger)
	}
	provider := credentials.NewProvider(
		exchanger,
		cfg.Identity.ExpiryMargin,
		cfg.Identity.ExchangeTimeout,
		logger,
		credentials.WithInstruments(instruments),
	)

	// --- Delivery ---
	sender, err := newSender(ctx, cfg, provider, logger)
	if err != nil {
		logger.Error("Failed to create sender", "mode", cfg.Delivery.Mode, "err", err)
		os.Exit(1)
	}
	batchDispatcher := dispatcher.New(provider, sender, dispatcher.Config{
		MaxConcurrency: cfg.Delivery.MaxConcurrency,
		SendTimeout:    cfg.Delivery.SendTimeout,
		RatePerSecond:  cfg.Delivery.RatePerSecond,
	}, logger, dispatcher.WithInstruments(instruments))

	// --- Auth ---
	var authMiddleware func(http.Handler) http.Handler
	if cfg.IdentityServiceURL != "" {
		jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.IdentityServiceURL, middleware.RSA256, logger)
		if err != nil {
			logger.Error("JWT discovery failed", "url", cfg.IdentityServiceURL, "err", err)
			os.Exit(1)
		}
		authMiddleware, err = middleware.NewJWKSAuthMiddleware(jwksURL, logger)
		if err != nil {
			logger.Error("Failed to create auth middleware", "err", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("IDENTITY_SERVICE_URL not set; send routes are unauthenticated")
	}

	// --- Consumer (optional) ---
	var consumer messagepipeline.MessageConsumer
	var psClient *pubsub.Client
	if cfg.PipelineEnabled() {
		psClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Ingestion consumer failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := pushrelay.New(cfg, consumer, batchDispatcher, authMiddleware, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr, "delivery_mode", cfg.Delivery.Mode)
		errCh <- service.Start(ctx)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Service stopped with error", "err", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		exitCode = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("Telemetry flush failed", "err", err)
	}
	if psClient != nil {
		_ = psClient.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	os.Exit(exitCode)
}

// newSender builds the delivery backend for the configured mode. Both modes
// authenticate through provider so they share one cached credential.
func newSender(ctx context.Context, cfg *config.Config, provider *credentials.Provider, logger *slog.Logger) (relay.Sender, error) {
	switch cfg.Delivery.Mode {
	case config.DeliverySDK:
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID},
			option.WithTokenSource(provider.TokenSource(ctx)))
		if err != nil {
			return nil, fmt.Errorf("initialize firebase app: %w", err)
		}
		client, err := fbApp.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("create fcm messaging client: %w", err)
		}
		return fcm.NewSDKSender(client, logger), nil
	default:
		httpClient := &http.Client{Timeout: cfg.Delivery.SendTimeout}
		return fcm.NewHTTPSender(cfg.Delivery.FCMEndpoint, cfg.ProjectID, httpClient, logger), nil
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:                  sub,
		Topic:                 topicID,
		AckDeadlineSeconds:    30,
		EnableMessageOrdering: false,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub %s: %w", sub, err)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
