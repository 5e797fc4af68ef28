package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-relay/internal/credentials"
	"github.com/tinywideclouds/go-push-relay/internal/report"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// DeliveryMode selects how messages reach FCM.
type DeliveryMode string

const (
	// DeliveryHTTP posts to the FCM HTTP v1 endpoint directly.
	DeliveryHTTP DeliveryMode = "http"
	// DeliverySDK sends through the Firebase Admin SDK.
	DeliverySDK DeliveryMode = "sdk"
)

const (
	defaultListenAddr      = ":8080"
	defaultSendTimeout     = 10 * time.Second
	defaultExchangeTimeout = 10 * time.Second
	defaultExpiryMargin    = 60 * time.Second
	defaultMaxConcurrency  = 16
)

type IdentityConfig struct {
	IssuerEmail string
	// PrivateKey is the raw configured value; SigningKey is its normalized form.
	PrivateKey      string
	SigningKey      []byte
	TokenURL        string
	ExchangeTimeout time.Duration
	ExpiryMargin    time.Duration
}

type DeliveryConfig struct {
	Mode           DeliveryMode
	FCMEndpoint    string
	SendTimeout    time.Duration
	MaxConcurrency int
	RatePerSecond  int
	TokenDisplay   report.TokenDisplay
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type TelemetryConfig struct {
	OTLPEndpoint string
	SampleRate   float64
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID  string
	ListenAddr string

	Identity  IdentityConfig
	Delivery  DeliveryConfig
	Telemetry TelemetryConfig

	// IdentityServiceURL enables JWKS authentication on the send route when set.
	IdentityServiceURL string
	CorsConfig         middleware.CorsConfig
	Redis              RedisConfig

	// Pub/Sub ingestion is enabled when SubscriptionID is set.
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	PubsubConsumerConfig   *messagepipeline.GooglePubsubConsumerConfig
}

// ServiceIdentity returns the identity used by the credential exchanger.
func (c *Config) ServiceIdentity() relay.ServiceIdentity {
	return relay.ServiceIdentity{
		IssuerEmail: c.Identity.IssuerEmail,
		SigningKey:  c.Identity.SigningKey,
		Scopes:      []string{relay.FirebaseMessagingScope},
		TokenURL:    c.Identity.TokenURL,
	}
}

// PipelineEnabled reports whether Pub/Sub ingestion should run.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("FIREBASE_PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "FIREBASE_PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}

	// Identity
	if val := os.Getenv("SERVICE_ACCOUNT_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "SERVICE_ACCOUNT_EMAIL", "source", "env")
		cfg.Identity.IssuerEmail = val
	}
	if val := os.Getenv("PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "PRIVATE_KEY", "source", "env")
		cfg.Identity.PrivateKey = val
	}
	if val := os.Getenv("TOKEN_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "TOKEN_URL", "source", "env")
		cfg.Identity.TokenURL = val
	}
	if err := envDuration("EXCHANGE_TIMEOUT", &cfg.Identity.ExchangeTimeout, logger); err != nil {
		return nil, err
	}
	if err := envDuration("EXPIRY_MARGIN", &cfg.Identity.ExpiryMargin, logger); err != nil {
		return nil, err
	}

	// Delivery
	if val := os.Getenv("DELIVERY_MODE"); val != "" {
		logger.Debug("Overriding config value", "key", "DELIVERY_MODE", "source", "env")
		cfg.Delivery.Mode = DeliveryMode(strings.ToLower(val))
	}
	if val := os.Getenv("FCM_ENDPOINT"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_ENDPOINT", "source", "env")
		cfg.Delivery.FCMEndpoint = val
	}
	if err := envDuration("SEND_TIMEOUT", &cfg.Delivery.SendTimeout, logger); err != nil {
		return nil, err
	}
	if err := envInt("MAX_CONCURRENCY", &cfg.Delivery.MaxConcurrency, logger); err != nil {
		return nil, err
	}
	if err := envInt("SEND_RATE_PER_SEC", &cfg.Delivery.RatePerSecond, logger); err != nil {
		return nil, err
	}
	if val := os.Getenv("TOKEN_DISPLAY"); val != "" {
		logger.Debug("Overriding config value", "key", "TOKEN_DISPLAY", "source", "env")
		cfg.Delivery.TokenDisplay = report.TokenDisplay(val)
	}

	// Pub/Sub
	if val := os.Getenv("TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "TOPIC_ID", "source", "env")
		cfg.TopicID = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// Edge
	if val := os.Getenv("IDENTITY_SERVICE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "IDENTITY_SERVICE_URL", "source", "env")
		cfg.IdentityServiceURL = val
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		logger.Debug("Overriding config value", "key", "OTEL_EXPORTER_OTLP_ENDPOINT", "source", "env")
		cfg.Telemetry.OTLPEndpoint = val
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.ProjectID == "" {
		return &relay.ConfigError{Field: "project_id", Err: fmt.Errorf("required (set via YAML or PROJECT_ID env var)")}
	}
	if cfg.Identity.IssuerEmail == "" {
		return &relay.ConfigError{Field: "service_account_email", Err: fmt.Errorf("required (set via YAML or SERVICE_ACCOUNT_EMAIL env var)")}
	}
	key, err := credentials.NormalizeSigningKey(cfg.Identity.PrivateKey)
	if err != nil {
		return err
	}
	cfg.Identity.SigningKey = key

	switch cfg.Delivery.Mode {
	case "":
		cfg.Delivery.Mode = DeliveryHTTP
	case DeliveryHTTP, DeliverySDK:
	default:
		return &relay.ConfigError{Field: "delivery_mode", Err: fmt.Errorf("unknown mode %q", cfg.Delivery.Mode)}
	}
	display, err := report.ParseTokenDisplay(string(cfg.Delivery.TokenDisplay))
	if err != nil {
		return &relay.ConfigError{Field: "token_display", Err: err}
	}
	cfg.Delivery.TokenDisplay = display

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.Identity.ExchangeTimeout <= 0 {
		cfg.Identity.ExchangeTimeout = defaultExchangeTimeout
	}
	if cfg.Identity.ExpiryMargin <= 0 {
		cfg.Identity.ExpiryMargin = defaultExpiryMargin
	}
	if cfg.Delivery.SendTimeout <= 0 {
		cfg.Delivery.SendTimeout = defaultSendTimeout
	}
	if cfg.Delivery.MaxConcurrency <= 0 {
		cfg.Delivery.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}
	return nil
}

func envDuration(key string, dst *time.Duration, logger *slog.Logger) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return &relay.ConfigError{Field: strings.ToLower(key), Err: err}
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	*dst = d
	return nil
}

func envInt(key string, dst *int, logger *slog.Logger) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return &relay.ConfigError{Field: strings.ToLower(key), Err: err}
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	*dst = n
	return nil
}
