package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftmq/mqtt/message"
	"github.com/driftmq/mqtt/packet"
)

func populatedSession() *Session {
	s := New("c1", false, 3600)
	s.SetWillMessage(&WillMessage{Topic: "wills/c1", Payload: []byte("gone"), QoS: packet.QoS1, Retain: true})
	s.AddSubscription(&Subscription{TopicFilter: "a/+", QoS: packet.QoS1, SubscribedAt: time.Now()})
	s.AddSubscription(&Subscription{TopicFilter: "b/#", QoS: packet.QoS2})

	out := message.New("a/x", []byte("p1"), packet.QoS2, false)
	out.PacketID = 7
	s.AddPendingPublish(out)
	s.AddPendingPubcomp(7)

	in := message.New("b/y", []byte("p2"), packet.QoS2, false)
	in.PacketID = 9
	s.AddIncomingQoS2(in)
	s.AddPendingPubrel(9)

	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	orig := populatedSession()

	data, err := orig.Snapshot().Marshal()
	require.NoError(t, err)

	snap, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	restored := snap.Restore()

	assert.Equal(t, "c1", restored.GetClientID())
	assert.False(t, restored.GetCleanSession())
	assert.Equal(t, uint32(3600), restored.GetExpiryInterval())

	will := restored.GetWillMessage()
	require.NotNil(t, will)
	assert.Equal(t, "wills/c1", will.Topic)
	assert.True(t, will.Retain)

	subs := restored.GetAllSubscriptions()
	require.Len(t, subs, 2)
	assert.Equal(t, packet.QoS1, subs["a/+"].QoS)

	out, ok := restored.GetPendingPublish(7)
	require.True(t, ok)
	assert.Equal(t, "a/x", out.Topic)
	assert.Equal(t, []byte("p1"), out.Payload)
	assert.True(t, restored.HasPendingPubcomp(7))

	in, ok := restored.GetIncomingQoS2(9)
	require.True(t, ok)
	assert.Equal(t, "b/y", in.Topic)
	assert.True(t, restored.HasPendingPubrel(9))
}

func TestSnapshotRestoreKeepsPacketIDProgress(t *testing.T) {
	s := New("c1", false, 0)
	first := s.NextPacketID()
	second := s.NextPacketID()
	require.NotEqual(t, first, second)

	data, err := s.Snapshot().Marshal()
	require.NoError(t, err)
	snap, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	restored := snap.Restore()

	next := restored.NextPacketID()
	assert.NotEqual(t, first, next)
	assert.NotEqual(t, second, next)
}

func TestRestoredSessionDeliveryQueueWorks(t *testing.T) {
	s := populatedSession()
	data, err := s.Snapshot().Marshal()
	require.NoError(t, err)
	snap, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	restored := snap.Restore()

	// The delivery queue is live state, not persisted — but a restored
	// session must still have a working one.
	restored.Deliver(message.New("t", []byte("x"), packet.QoS0, false))
	assert.Equal(t, 1, restored.DeliveryBacklog())
}
