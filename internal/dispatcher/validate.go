package dispatcher

import (
	"github.com/tinywideclouds/go-push-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// Validate checks a request before any network activity. The notification is
// checked first, so a request without title or body is rejected without its
// tokens being looked at.
func Validate(req relay.NotificationRequest) error {
	if req.Notification.Title == "" {
		return &relay.ValidationError{Field: "notification.title", Reason: "is required"}
	}
	if req.Notification.Body == "" {
		return &relay.ValidationError{Field: "notification.body", Reason: "is required"}
	}
	if len(req.Tokens) == 0 {
		return &relay.ValidationError{Field: "tokens", Reason: "must be a non-empty list"}
	}
	if _, err := fcm.FlattenData(req.Data); err != nil {
		return err
	}
	return nil
}
