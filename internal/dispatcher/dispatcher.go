// Package dispatcher fans one notification batch out to the push backend, one
// delivery per token, and aggregates the per-token outcomes.
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tinywideclouds/go-push-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-relay/internal/telemetry"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// Config bounds the fan-out.
type Config struct {
	// MaxConcurrency is the number of deliveries in flight per batch.
	MaxConcurrency int
	// SendTimeout bounds each per-token backend call.
	SendTimeout time.Duration
	// RatePerSecond, when positive, limits deliveries across all batches.
	RatePerSecond int
}

const (
	defaultMaxConcurrency = 16
	defaultSendTimeout    = 10 * time.Second
)

// Dispatcher implements relay.BatchSender.
type Dispatcher struct {
	credentials relay.CredentialSource
	sender      relay.Sender
	cfg         Config
	limiter     *rate.Limiter
	instruments *telemetry.Instruments
	logger      *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithInstruments enables tracing and metrics.
func WithInstruments(i *telemetry.Instruments) Option {
	return func(d *Dispatcher) { d.instruments = i }
}

// New creates a Dispatcher. The credential source is shared by every batch.
func New(credentials relay.CredentialSource, sender relay.Sender, cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	d := &Dispatcher{
		credentials: credentials,
		sender:      sender,
		cfg:         cfg,
		instruments: telemetry.Noop(),
		logger:      logger.With("component", "Dispatcher"),
	}
	if cfg.RatePerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send validates req, acquires one credential and delivers to every token.
//
// Validation, configuration and credential failures abort the batch before any
// delivery is attempted. Per-token failures are recorded in that token's outcome
// and never affect the others. Outcomes are returned in input order.
func (d *Dispatcher) Send(ctx context.Context, req relay.NotificationRequest) (*relay.BatchResult, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	log := d.logger.With("batch_id", batchID, "total", len(req.Tokens))
	ctx, span := d.instruments.Tracer.Start(ctx, "relay.dispatch", trace.WithAttributes(
		attribute.String("relay.batch_id", batchID),
		attribute.Int("relay.total", len(req.Tokens)),
	))
	defer span.End()
	start := time.Now()

	cred, err := d.credentials.Token(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credential unavailable")
		log.Error("Batch aborted: no credential", "err", err)
		return nil, err
	}

	outcomes := make([]relay.DispatchOutcome, len(req.Tokens))
	var g errgroup.Group
	g.SetLimit(d.cfg.MaxConcurrency)
	for i, token := range req.Tokens {
		g.Go(func() error {
			outcomes[i] = d.deliver(ctx, cred, token, req)
			return nil
		})
	}
	_ = g.Wait()

	result := &relay.BatchResult{
		BatchID:  batchID,
		Success:  true,
		Total:    len(req.Tokens),
		Outcomes: outcomes,
	}
	for _, o := range outcomes {
		if o.Success {
			result.Sent++
		}
	}

	d.instruments.RecordBatch(ctx, time.Since(start))
	span.SetAttributes(attribute.Int("relay.sent", result.Sent))
	log.Info("Batch dispatched", "sent", result.Sent, "failed", result.Total-result.Sent, "took", time.Since(start))
	return result, nil
}

func (d *Dispatcher) deliver(ctx context.Context, cred relay.AccessCredential, token string, req relay.NotificationRequest) relay.DispatchOutcome {
	outcome := relay.DispatchOutcome{Token: token}
	defer func() { d.instruments.RecordDelivery(ctx, outcome.Success) }()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			outcome.Error = err.Error()
			return outcome
		}
	}

	msg, err := fcm.Build(token, req.Notification, req.Data)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	resp, err := d.sender.Send(sendCtx, cred, msg)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Success = true
	outcome.Response = resp
	return outcome
}
