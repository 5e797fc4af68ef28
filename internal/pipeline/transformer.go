// Package pipeline adapts the batch dispatcher to Pub/Sub ingestion.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// NotificationRequestTransformer unmarshals a Pub/Sub payload into a
// relay.NotificationRequest. The payload is the same JSON body accepted by the
// HTTP send route; numbers are kept as json.Number so data values are echoed
// verbatim.
//
// A payload that is not JSON is skipped with an error so the StreamingService
// can apply its Nack/DLQ handling.
func NotificationRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*relay.NotificationRequest, bool, error) {
	var req relay.NotificationRequest

	dec := json.NewDecoder(bytes.NewReader(msg.Payload))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal notification request from message %s: %w", msg.ID, err)
	}

	return &req, false, nil
}
