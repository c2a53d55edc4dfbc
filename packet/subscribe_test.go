package packet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeRoundTrip(t *testing.T) {
	in := Subscribe{
		PacketID: 10,
		Subscriptions: []TopicSubscription{
			{TopicFilter: "a/b", QoS: QoS0},
			{TopicFilter: "a/+/c", QoS: QoS1},
			{TopicFilter: "#", QoS: QoS2},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, in.Encode(&buf))
	assert.Equal(t, byte(SUBSCRIBE)<<4|0x02, buf.Bytes()[0])

	pkt, err := ReadPacket(&buf)
	require.NoError(t, err)
	got, ok := pkt.(*Subscribe)
	require.True(t, ok)
	assert.Equal(t, in, *got)
}

func TestSubscribeRejectsEmptyList(t *testing.T) {
	s := Subscribe{PacketID: 1}
	var buf bytes.Buffer
	assert.ErrorIs(t, s.Encode(&buf), ErrEmptySubscribeList)
}

func TestSubackRoundTrip(t *testing.T) {
	in := Suback{PacketID: 10, ReturnCodes: []byte{0x00, 0x01, SubscribeFailure}}
	var buf bytes.Buffer
	require.NoError(t, in.Encode(&buf))

	pkt, err := ReadPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, &in, pkt)
}

func TestUnsubscribeRoundTrip(t *testing.T) {
	in := Unsubscribe{PacketID: 11, TopicFilters: []string{"a/b", "#"}}
	var buf bytes.Buffer
	require.NoError(t, in.Encode(&buf))
	assert.Equal(t, byte(UNSUBSCRIBE)<<4|0x02, buf.Bytes()[0])

	pkt, err := ReadPacket(&buf)
	require.NoError(t, err)
	got, ok := pkt.(*Unsubscribe)
	require.True(t, ok)
	assert.Equal(t, in, *got)
}

func TestUnsubackRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&Unsuback{PacketID: 12}).Encode(&buf))

	pkt, err := ReadPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, &Unsuback{PacketID: 12}, pkt)
}
