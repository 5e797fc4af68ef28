package relay_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

func TestAccessCredential_ValidAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	margin := time.Minute

	testCases := []struct {
		name     string
		cred     relay.AccessCredential
		expected bool
	}{
		{name: "Fresh", cred: relay.AccessCredential{Token: "t", ExpiresAt: now.Add(time.Hour)}, expected: true},
		{name: "Inside margin", cred: relay.AccessCredential{Token: "t", ExpiresAt: now.Add(30 * time.Second)}, expected: false},
		{name: "Exactly at margin", cred: relay.AccessCredential{Token: "t", ExpiresAt: now.Add(margin)}, expected: false},
		{name: "Expired", cred: relay.AccessCredential{Token: "t", ExpiresAt: now.Add(-time.Second)}, expected: false},
		{name: "Empty token", cred: relay.AccessCredential{ExpiresAt: now.Add(time.Hour)}, expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.cred.ValidAt(now, margin))
		})
	}
}

func TestErrors(t *testing.T) {
	cause := errors.New("boom")

	t.Run("Wrapped errors unwrap", func(t *testing.T) {
		for _, err := range []error{
			&relay.ConfigError{Field: "private_key", Err: cause},
			&relay.AuthError{Err: cause},
			&relay.DeliveryError{Err: cause},
		} {
			assert.ErrorIs(t, fmt.Errorf("outer: %w", err), cause)
		}
	})

	t.Run("Delivery error text is the backend body", func(t *testing.T) {
		err := &relay.DeliveryError{StatusCode: 404, Body: `{"error":{"status":"NOT_FOUND"}}`}
		assert.Equal(t, `{"error":{"status":"NOT_FOUND"}}`, err.Error())
	})

	t.Run("Validation error names the field", func(t *testing.T) {
		err := &relay.ValidationError{Field: "tokens", Reason: "must not be empty"}
		assert.Equal(t, "invalid request: tokens must not be empty", err.Error())

		var vErr *relay.ValidationError
		assert.True(t, errors.As(fmt.Errorf("wrap: %w", err), &vErr))
	})
}
