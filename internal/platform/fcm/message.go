// Package fcm builds Firebase Cloud Messaging v1 messages and delivers them.
package fcm

import (
	"encoding/json"
	"fmt"
	"strconv"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// Delivery hints applied to every message.
const (
	AndroidPriority = "high"
	APNSPriority    = "10"
)

// Build creates the FCM message addressed to a single registration token.
// data is flattened with FlattenData; a nil or empty map yields no data field.
func Build(token string, n relay.Notification, data map[string]any) (*messaging.Message, error) {
	flat, err := FlattenData(data)
	if err != nil {
		return nil, err
	}
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: flat,
		Android: &messaging.AndroidConfig{
			Priority: AndroidPriority,
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": APNSPriority},
		},
	}, nil
}

// FlattenData stringifies every value of a flat data mapping, since FCM data
// payloads are string-to-string. Nested objects and arrays are rejected.
func FlattenData(data map[string]any) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	flat := make(map[string]string, len(data))
	for k, v := range data {
		s, err := stringify(v)
		if err != nil {
			return nil, &relay.ValidationError{Field: "data." + k, Reason: err.Error()}
		}
		flat[k] = s
	}
	return flat, nil
}

func stringify(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		return strconv.FormatBool(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(val), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	default:
		return "", fmt.Errorf("must be a scalar, got %T", v)
	}
}
