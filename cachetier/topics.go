package cachetier

import (
	"encore.dev/pubsub"

	ptypes "ratingproxy.app/pkg/pubsub"
)

// CacheInvalidateTopic carries the pattern-based invalidation events that
// admin flush publishes. No subscription to it is registered in this
// module.
var CacheInvalidateTopic = pubsub.NewTopic[*ptypes.InvalidationEvent](
	ptypes.TopicCacheInvalidate,
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

// RebuildTriggeredTopic forwards admin rebuild triggers to the external
// ratings database service, which owns rebuild scheduling and is out of
// this module's scope.
var RebuildTriggeredTopic = pubsub.NewTopic[*ptypes.RebuildTriggeredEvent](
	ptypes.TopicRebuildTriggered,
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)
