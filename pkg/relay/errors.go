package relay

import "fmt"

// ConfigError reports missing or malformed identity/project configuration.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("configuration error: %s", e.Field)
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ValidationError reports a malformed NotificationRequest. No network activity
// happens for a request that fails validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// AuthError reports a failed credential exchange. It aborts the whole batch.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("credential exchange failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// DeliveryError is a per-token failure. It is recorded in that token's outcome
// and never escalated to the batch.
type DeliveryError struct {
	StatusCode int
	// Body is the backend's response text, verbatim.
	Body string
	Err  error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Body
}

func (e *DeliveryError) Unwrap() error { return e.Err }
