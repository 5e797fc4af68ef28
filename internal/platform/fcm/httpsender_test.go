package fcm_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const unregisteredBody = `{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`

func TestHTTPSender_Send(t *testing.T) {
	cred := relay.AccessCredential{Token: "ya29.bearer", ExpiresAt: time.Now().Add(time.Hour)}

	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		msg := gotBody["message"].(map[string]any)
		switch msg["token"] {
		case "good":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"name":"projects/demo/messages/0:123"}`))
		case "slow":
			time.Sleep(500 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		case "html":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`<html>ok</html>`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(unregisteredBody))
		}
	}))
	defer srv.Close()

	sender := fcm.NewHTTPSender(srv.URL, "demo", srv.Client(), newTestLogger())
	n := relay.Notification{Title: "T", Body: "B"}

	t.Run("Success", func(t *testing.T) {
		msg, err := fcm.Build("good", n, map[string]any{"k": "v"})
		require.NoError(t, err)

		resp, err := sender.Send(context.Background(), cred, msg)

		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"projects/demo/messages/0:123"}`, string(resp))
		assert.Equal(t, "/v1/projects/demo/messages:send", gotPath)
		assert.Equal(t, "Bearer ya29.bearer", gotAuth)
		assert.Equal(t, "good", gotBody["message"].(map[string]any)["token"])
	})

	t.Run("Rejection keeps the raw body", func(t *testing.T) {
		msg, err := fcm.Build("dead", n, nil)
		require.NoError(t, err)

		_, err = sender.Send(context.Background(), cred, msg)

		var dErr *relay.DeliveryError
		require.True(t, errors.As(err, &dErr))
		assert.Equal(t, http.StatusNotFound, dErr.StatusCode)
		assert.Equal(t, unregisteredBody, dErr.Error())
	})

	t.Run("Non-JSON success is a failure", func(t *testing.T) {
		msg, err := fcm.Build("html", n, nil)
		require.NoError(t, err)

		_, err = sender.Send(context.Background(), cred, msg)

		var dErr *relay.DeliveryError
		require.True(t, errors.As(err, &dErr))
		assert.Equal(t, "<html>ok</html>", dErr.Body)
	})

	t.Run("Context deadline bounds the call", func(t *testing.T) {
		msg, err := fcm.Build("slow", n, nil)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = sender.Send(ctx, cred, msg)

		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
