package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-relay/internal/report"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// NewProcessor dispatches each ingested request as one batch.
//
// A request that fails validation can never succeed, so it is logged and acked.
// Credential and configuration failures are returned so Pub/Sub redelivers the
// message and eventually dead-letters it. Per-token failures are part of a
// successful batch and are only logged.
func NewProcessor(
	sender relay.BatchSender,
	display report.TokenDisplay,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[relay.NotificationRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *relay.NotificationRequest) error {
		procLogger := logger.With(
			"pubsub_msg_id", original.ID,
			"total", len(request.Tokens),
		)

		result, err := sender.Send(ctx, *request)
		if err != nil {
			var vErr *relay.ValidationError
			if errors.As(err, &vErr) {
				procLogger.Warn("Dropping invalid notification request", "err", err)
				return nil
			}
			procLogger.Error("Batch dispatch failed", "err", err)
			return err // Retryable
		}

		for _, o := range result.Outcomes {
			if !o.Success {
				procLogger.Debug("Token delivery failed", "token", display.Display(o.Token), "err", o.Error)
			}
		}
		procLogger.Info("Batch dispatched", "batch_id", result.BatchID, "sent", result.Sent)
		return nil
	}
}
