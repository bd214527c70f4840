// Package pubsub publishes output records to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/storefront-crawler/internal/sink"
)

// Sink publishes one JSON message per record.
type Sink struct {
	topic *pubsub.Topic
	runID string
}

// New wraps topic. The caller owns the client.
func New(topic *pubsub.Topic, runID string) (*Sink, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &Sink{topic: topic, runID: runID}, nil
}

// Emit publishes item and waits for the server acknowledgement.
func (s *Sink) Emit(ctx context.Context, item any) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	attrs := map[string]string{"run_id": s.runID}
	if url, id := sink.Fields(item); url != "" {
		attrs["url"] = url
		if id != "" {
			attrs["variant_id"] = id
		}
	}
	if m, ok := item.(map[string]any); ok {
		if _, failed := m[sink.FailedKey]; failed {
			attrs["failed"] = "true"
		}
	}
	result := s.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (s *Sink) Close() error {
	s.topic.Stop()
	return nil
}
