package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// DefaultEndpoint is the production FCM host.
const DefaultEndpoint = "https://fcm.googleapis.com"

// maxResponseBytes caps how much of a backend response is kept in an outcome.
const maxResponseBytes = 64 << 10

type sendRequest struct {
	Message *messaging.Message `json:"message"`
}

// HTTPSender calls the FCM HTTP v1 send endpoint directly with the relay's own
// bearer credential. Error bodies are preserved verbatim.
type HTTPSender struct {
	client  *http.Client
	sendURL string
	logger  *slog.Logger
}

// NewHTTPSender creates a sender for projectID. An empty endpoint means DefaultEndpoint.
func NewHTTPSender(endpoint, projectID string, client *http.Client, logger *slog.Logger) *HTTPSender {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSender{
		client:  client,
		sendURL: fmt.Sprintf("%s/v1/projects/%s/messages:send", strings.TrimSuffix(endpoint, "/"), url.PathEscape(projectID)),
		logger:  logger.With("component", "FCMHTTPSender"),
	}
}

// Send delivers one message. Failures are returned as *relay.DeliveryError.
func (s *HTTPSender) Send(ctx context.Context, credential relay.AccessCredential, msg *messaging.Message) (json.RawMessage, error) {
	body, err := json.Marshal(sendRequest{Message: msg})
	if err != nil {
		return nil, &relay.DeliveryError{Err: fmt.Errorf("failed to marshal message: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sendURL, bytes.NewReader(body))
	if err != nil {
		return nil, &relay.DeliveryError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+credential.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &relay.DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &relay.DeliveryError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Debug("FCM rejected message", "status", resp.StatusCode)
		return nil, &relay.DeliveryError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if !json.Valid(raw) {
		return nil, &relay.DeliveryError{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			Err:        errors.New("success response is not valid JSON"),
		}
	}
	return json.RawMessage(raw), nil
}
