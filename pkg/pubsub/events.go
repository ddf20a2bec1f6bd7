// Package pubsub defines the event payloads carried over encore.dev/pubsub
// topics used to coordinate cache invalidation across instances and to
// forward admin rebuild triggers to the external ratings database service.
package pubsub

import (
	"errors"
	"fmt"
	"time"
)

const EventVersion1 = 1

// InvalidationEvent describes a cache invalidation published on the
// cache-invalidate topic. At least one of Keys or Pattern must be set.
type InvalidationEvent struct {
	Version     int               `json:"version"`
	Keys        []string          `json:"keys,omitempty"`
	Pattern     string            `json:"pattern,omitempty"`
	TriggeredBy string            `json:"triggeredBy"`
	TriggeredAt time.Time         `json:"triggeredAt"`
	Meta        map[string]string `json:"meta,omitempty"`
	RequestID   string            `json:"requestId"`
}

func (e *InvalidationEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}
	if len(e.Keys) == 0 && e.Pattern == "" {
		return errors.New("at least one of keys or pattern must be set")
	}
	if e.TriggeredAt.IsZero() {
		return errors.New("triggeredAt cannot be zero")
	}
	return nil
}

// RebuildTriggeredEvent is published when an admin calls the rebuild
// trigger endpoint. It is forwarded to the external ratings database
// service, which is out of scope for this repo and consumes the event
// over its own subscription.
type RebuildTriggeredEvent struct {
	Version     int               `json:"version"`
	Scope       string            `json:"scope"` // e.g. "all", "item:<id>", "source:<name>"
	TriggeredBy string            `json:"triggeredBy"`
	TriggeredAt time.Time         `json:"triggeredAt"`
	Meta        map[string]string `json:"meta,omitempty"`
	RequestID   string            `json:"requestId"`
}

func (e *RebuildTriggeredEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}
	if e.Scope == "" {
		return errors.New("scope is required")
	}
	if e.TriggeredAt.IsZero() {
		return errors.New("triggeredAt cannot be zero")
	}
	return nil
}
