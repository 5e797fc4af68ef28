// Package relay contains the public domain model, error taxonomy and collaborator
// contracts of the push relay.
package relay

import (
	"encoding/json"
	"time"
)

// FirebaseMessagingScope is the OAuth scope required to call the FCM send endpoint.
const FirebaseMessagingScope = "https://www.googleapis.com/auth/firebase.messaging"

// ServiceIdentity is the signing identity used to obtain access credentials.
// It is loaded once at startup and never mutated afterwards.
type ServiceIdentity struct {
	IssuerEmail string
	// SigningKey is a normalized PEM block (see credentials.NormalizeSigningKey).
	SigningKey []byte
	Scopes     []string
	// TokenURL is the OAuth token endpoint. Empty means the Google default.
	TokenURL string
}

// AccessCredential is a short-lived bearer token.
type AccessCredential struct {
	Token     string
	ExpiresAt time.Time
}

// ValidAt reports whether the credential can still be handed out at now,
// keeping margin in reserve before the real expiry.
func (c AccessCredential) ValidAt(now time.Time, margin time.Duration) bool {
	if c.Token == "" {
		return false
	}
	return now.Add(margin).Before(c.ExpiresAt)
}

// Notification is the display part of a push message.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// NotificationRequest is one inbound batch.
type NotificationRequest struct {
	Tokens       []string       `json:"tokens"`
	Notification Notification   `json:"notification"`
	Data         map[string]any `json:"data,omitempty"`
}

// DispatchOutcome records what happened to a single token.
type DispatchOutcome struct {
	Token   string
	Success bool
	// Error is the backend's raw error text or the transport error message.
	Error string
	// Response is the backend's success payload, if any.
	Response json.RawMessage
}

// BatchResult aggregates the outcomes of one NotificationRequest.
// Outcomes are in the same order as the request tokens.
type BatchResult struct {
	BatchID  string
	Success  bool
	Sent     int
	Total    int
	Outcomes []DispatchOutcome
}
