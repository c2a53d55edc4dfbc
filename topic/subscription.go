package topic

import "github.com/driftmq/mqtt/packet"

// Subscription is one (client, filter) entry of the broker-wide routing
// trie, as established by SUBSCRIBE (section 3.8).
type Subscription struct {
	ClientID    string
	TopicFilter string
	QoS         packet.QoS
}

// SubscriberInfo is the routing-trie's per-leaf record for one subscriber,
// carrying only what Match needs to hand back to the caller.
type SubscriberInfo struct {
	ClientID string
	QoS      packet.QoS
}
