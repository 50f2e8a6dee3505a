package internal_rtp

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPacket(t *testing.T, pt uint8, payload []byte, csrc []uint32) []byte {
	t.Helper()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    pt,
			SequenceNumber: 1234,
			Timestamp:      567890,
			SSRC:           0xdeadbeef,
			CSRC:           csrc,
		},
		Payload: payload,
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)
	return raw
}

func TestParse_Basic(t *testing.T) {
	payload := []byte{0xff, 0x7f, 0x00, 0x80}
	raw := buildPacket(t, PayloadTypePCMU, payload, nil)

	pkt, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), pkt.Version)
	assert.Equal(t, uint16(1234), pkt.Sequence)
	assert.Equal(t, uint32(567890), pkt.Timestamp)
	assert.Equal(t, uint32(0xdeadbeef), pkt.SSRC)
	assert.Equal(t, payload, pkt.Payload)
	assert.True(t, pkt.IsULaw())
	assert.False(t, pkt.IsALaw())
}

func TestParse_PayloadLengthWithCSRC(t *testing.T) {
	payload := make([]byte, 160)
	raw := buildPacket(t, PayloadTypePCMU, payload, []uint32{1, 2})

	pkt, err := Parse(raw)
	require.NoError(t, err)
	// 12-byte fixed header + 2*4 CSRC stripped.
	assert.Len(t, pkt.Payload, len(raw)-12-8)
	assert.Len(t, pkt.CSRC, 2)
}

func TestParse_ALaw(t *testing.T) {
	raw := buildPacket(t, PayloadTypePCMA, []byte{0xd5}, nil)
	pkt, err := Parse(raw)
	require.NoError(t, err)
	assert.True(t, pkt.IsALaw())
}

func TestParse_TooShort(t *testing.T) {
	_, err := Parse([]byte{0x80, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrPacketTooShort)
}

func TestParse_BadVersion(t *testing.T) {
	raw := buildPacket(t, PayloadTypePCMU, []byte{0x00}, nil)
	raw[0] = 0x40 // version 1
	_, err := Parse(raw)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}
