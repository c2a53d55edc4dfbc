package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/driftmq/mqtt/packet"
)

func TestSubscription(t *testing.T) {
	t.Run("create subscription", func(t *testing.T) {
		sub := &Subscription{
			ClientID:    "client1",
			TopicFilter: "home/+/temperature",
			QoS:         1,
		}

		assert.Equal(t, "client1", sub.ClientID)
		assert.Equal(t, "home/+/temperature", sub.TopicFilter)
		assert.Equal(t, packet.QoS1, sub.QoS)
	})

	t.Run("create subscriber info", func(t *testing.T) {
		info := SubscriberInfo{ClientID: "client1", QoS: 2}

		assert.Equal(t, "client1", info.ClientID)
		assert.Equal(t, packet.QoS2, info.QoS)
	})
}
