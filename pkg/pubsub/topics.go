// Package pubsub provides topic name constants for this repo's two
// event-driven flows: cross-instance cache invalidation, and forwarding
// admin rebuild triggers to the external ratings database service.
//
// Design Notes:
//   - Topics are constants to avoid typos and enable compile-time checks
//   - Version field in events enables schema evolution without breaking consumers
//   - No direct Encore dependencies here, so pkg/ stays reusable across services
package pubsub

const (
	// TopicCacheInvalidate carries InvalidationEvent.
	TopicCacheInvalidate = "cache.invalidate"

	// TopicRebuildTriggered carries RebuildTriggeredEvent, consumed by the
	// external ratings database service (out of scope for this repo).
	TopicRebuildTriggered = "rebuild.triggered"
)

// AllTopics returns all defined topic names.
func AllTopics() []string {
	return []string{TopicCacheInvalidate, TopicRebuildTriggered}
}
