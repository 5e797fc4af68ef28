// Package pushrelay assembles the relay: the HTTP surface on the shared base
// server and, when a subscription is configured, the Pub/Sub ingestion pipeline.
package pushrelay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/internal/report"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[relay.NotificationRequest]
	logger          *slog.Logger
}

// New assembles the service. consumer may be nil, in which case only the HTTP
// surface runs. authMiddleware may be nil to leave the send routes open.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	sender relay.BatchSender,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Pipeline (optional)
	var streamingService *messagepipeline.StreamingService[relay.NotificationRequest]
	if consumer != nil {
		processor := pipeline.NewProcessor(sender, cfg.Delivery.TokenDisplay, logger.With("component", "Pipeline"))

		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.NotificationRequestTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 3. API
	relayAPI := api.NewRelayAPI(sender, report.NewReporter(cfg.Delivery.TokenDisplay), logger.With("component", "RelayAPI"))

	if authMiddleware == nil {
		authMiddleware = func(h http.Handler) http.Handler { return h }
	}

	// Register Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("POST /send-notification", relayAPI.SendNotification)
	handle("POST /api/v1/notifications:send", relayAPI.SendNotification)

	mux.Handle("GET /health", corsMiddleware(http.HandlerFunc(relayAPI.Health)))

	// CORS preflight; the middleware writes the headers.
	preflight := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	mux.Handle("OPTIONS /send-notification", preflight)
	mux.Handle("OPTIONS /api/v1/", preflight)

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Ingestion pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Ingestion pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
