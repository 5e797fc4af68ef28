package relay

import (
	"context"
	"encoding/json"

	"firebase.google.com/go/v4/messaging"
)

// CredentialSource hands out a valid AccessCredential, exchanging a new one when needed.
type CredentialSource interface {
	Token(ctx context.Context) (AccessCredential, error)
}

// Exchanger performs one signed token exchange against the identity backend.
type Exchanger interface {
	Exchange(ctx context.Context) (AccessCredential, error)
}

// Sender delivers a single message to the push backend.
// A non-nil error means the delivery for that token failed; the returned payload
// is the backend's success response.
type Sender interface {
	Send(ctx context.Context, credential AccessCredential, msg *messaging.Message) (json.RawMessage, error)
}

// BatchSender is the entry point used by the inbound transports (HTTP, Pub/Sub).
type BatchSender interface {
	Send(ctx context.Context, req NotificationRequest) (*BatchResult, error)
}
