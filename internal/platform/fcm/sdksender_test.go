package fcm_test

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func TestSDKSender_Send(t *testing.T) {
	ctx := context.Background()
	msg, err := fcm.Build("token-1", relay.Notification{Title: "T", Body: "B"}, nil)
	require.NoError(t, err)

	t.Run("Happy Path - message name returned", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSDKSender(mockClient, newTestLogger())
		mockClient.On("Send", ctx, msg).Return("projects/demo/messages/42", nil)

		resp, err := sender.Send(ctx, relay.AccessCredential{}, msg)

		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"projects/demo/messages/42"}`, string(resp))
		mockClient.AssertExpectations(t)
	})

	t.Run("Failure wrapped as DeliveryError", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSDKSender(mockClient, newTestLogger())
		mockClient.On("Send", ctx, msg).Return("", errors.New("network down"))

		_, err := sender.Send(ctx, relay.AccessCredential{}, msg)

		var dErr *relay.DeliveryError
		require.True(t, errors.As(err, &dErr))
		assert.Equal(t, "network down", err.Error())
	})
}
