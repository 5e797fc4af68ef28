package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-relay/internal/report"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlIdentityConfig struct {
	ServiceAccountEmail string `yaml:"service_account_email"`
	TokenURL            string `yaml:"token_url"`
	ExchangeTimeout     string `yaml:"exchange_timeout"`
	ExpiryMargin        string `yaml:"expiry_margin"`
}

type YamlDeliveryConfig struct {
	Mode           string `yaml:"mode"`
	FCMEndpoint    string `yaml:"fcm_endpoint"`
	SendTimeout    string `yaml:"send_timeout"`
	MaxConcurrency int    `yaml:"max_concurrency"`
	RatePerSecond  int    `yaml:"rate_per_second"`
	TokenDisplay   string `yaml:"token_display"`
}

type YamlTelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
// The signing key is never read from YAML; it only arrives through PRIVATE_KEY.
type YamlConfig struct {
	ProjectID              string              `yaml:"project_id"`
	ListenAddr             string              `yaml:"listen_addr"`
	IdentityServiceURL     string              `yaml:"identity_service_url"`
	Identity               YamlIdentityConfig  `yaml:"identity"`
	Delivery               YamlDeliveryConfig  `yaml:"delivery"`
	Telemetry              YamlTelemetryConfig `yaml:"telemetry"`
	TopicID                string              `yaml:"topic_id"`
	SubscriptionID         string              `yaml:"subscription_id"`
	SubscriptionDLQTopicID string              `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig      `yaml:"cors"`
	RedisConfig            YamlRedisConfig     `yaml:"redis"`
	NumPipelineWorkers     int                 `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	durations := map[string]string{
		"identity.exchange_timeout": baseCfg.Identity.ExchangeTimeout,
		"identity.expiry_margin":    baseCfg.Identity.ExpiryMargin,
		"delivery.send_timeout":     baseCfg.Delivery.SendTimeout,
	}
	parsed := make(map[string]time.Duration, len(durations))
	for field, raw := range durations {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, &relay.ConfigError{Field: field, Err: fmt.Errorf("parse %q: %w", raw, err)}
		}
		parsed[field] = d
	}

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		IdentityServiceURL: baseCfg.IdentityServiceURL,
		Identity: IdentityConfig{
			IssuerEmail:     baseCfg.Identity.ServiceAccountEmail,
			TokenURL:        baseCfg.Identity.TokenURL,
			ExchangeTimeout: parsed["identity.exchange_timeout"],
			ExpiryMargin:    parsed["identity.expiry_margin"],
		},
		Delivery: DeliveryConfig{
			Mode:           DeliveryMode(baseCfg.Delivery.Mode),
			FCMEndpoint:    baseCfg.Delivery.FCMEndpoint,
			SendTimeout:    parsed["delivery.send_timeout"],
			MaxConcurrency: baseCfg.Delivery.MaxConcurrency,
			RatePerSecond:  baseCfg.Delivery.RatePerSecond,
			TokenDisplay:   report.TokenDisplay(baseCfg.Delivery.TokenDisplay),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: baseCfg.Telemetry.OTLPEndpoint,
			SampleRate:   baseCfg.Telemetry.SampleRate,
		},
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"delivery_mode", cfg.Delivery.Mode,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}
