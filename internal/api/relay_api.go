package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-relay/internal/report"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

type RelayAPI struct {
	Sender   relay.BatchSender
	Reporter *report.Reporter
	Logger   *slog.Logger
}

func NewRelayAPI(sender relay.BatchSender, reporter *report.Reporter, logger *slog.Logger) *RelayAPI {
	return &RelayAPI{
		Sender:   sender,
		Reporter: reporter,
		Logger:   logger,
	}
}

// SendNotification fans one batch out and reports per-token results.
//
// The handler only rejects bodies that are not JSON; field validation belongs to
// the dispatcher so that HTTP and Pub/Sub ingestion apply the same rules.
func (api *RelayAPI) SendNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req relay.NotificationRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		api.Logger.Warn("SendNotification: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	result, err := api.Sender.Send(ctx, req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadRequest {
			api.Logger.Warn("SendNotification: request rejected", "err", err)
		} else {
			api.Logger.Error("SendNotification: batch failed", "err", err)
		}
		response.WriteJSONError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, api.Reporter.Shape(result))
}

// Health reports liveness. Readiness is served by the base server.
func (api *RelayAPI) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) int {
	var vErr *relay.ValidationError
	if errors.As(err, &vErr) {
		return http.StatusBadRequest
	}
	// ConfigError, AuthError and anything unexpected are server-side.
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
