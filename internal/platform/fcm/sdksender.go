package fcm

import (
	"context"
	"encoding/json"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// SDKSender delivers through the Firebase Admin SDK. The SDK authenticates with its
// own token source, which the relay points at the credential Provider, so the
// credential argument is unused here.
type SDKSender struct {
	client MessagingClient
	logger *slog.Logger
}

func NewSDKSender(client MessagingClient, logger *slog.Logger) *SDKSender {
	return &SDKSender{
		client: client,
		logger: logger.With("component", "FCMSDKSender"),
	}
}

func (s *SDKSender) Send(ctx context.Context, _ relay.AccessCredential, msg *messaging.Message) (json.RawMessage, error) {
	id, err := s.client.Send(ctx, msg)
	if err != nil {
		// Dead tokens are the caller's concern; we only surface them in the log.
		if messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsInvalidArgument(err) {
			s.logger.Debug("FCM rejected registration token", "err", err)
		}
		return nil, &relay.DeliveryError{Err: err}
	}

	resp, err := json.Marshal(map[string]string{"name": id})
	if err != nil {
		return nil, &relay.DeliveryError{Err: err}
	}
	return resp, nil
}
