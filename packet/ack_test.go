package packet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckPacketsRoundTrip(t *testing.T) {
	var pb bytes.Buffer
	require.NoError(t, (&Puback{PacketID: 1}).Encode(&pb))
	pkt, err := ReadPacket(&pb)
	require.NoError(t, err)
	assert.Equal(t, &Puback{PacketID: 1}, pkt)

	var rc bytes.Buffer
	require.NoError(t, (&Pubrec{PacketID: 2}).Encode(&rc))
	pkt, err = ReadPacket(&rc)
	require.NoError(t, err)
	assert.Equal(t, &Pubrec{PacketID: 2}, pkt)

	var rl bytes.Buffer
	require.NoError(t, (&Pubrel{PacketID: 3}).Encode(&rl))
	pkt, err = ReadPacket(&rl)
	require.NoError(t, err)
	assert.Equal(t, &Pubrel{PacketID: 3}, pkt)

	var cp bytes.Buffer
	require.NoError(t, (&Pubcomp{PacketID: 4}).Encode(&cp))
	pkt, err = ReadPacket(&cp)
	require.NoError(t, err)
	assert.Equal(t, &Pubcomp{PacketID: 4}, pkt)
}

func TestPubrelReservedFlags(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&Pubrel{PacketID: 9}).Encode(&buf))
	assert.Equal(t, byte(PUBREL)<<4|0x02, buf.Bytes()[0])
}

func TestAckRejectsZeroPacketID(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&Puback{PacketID: 0}).Encode(&buf))
	_, err := ReadPacket(&buf)
	assert.ErrorIs(t, err, ErrInvalidPacketIDZero)
}
