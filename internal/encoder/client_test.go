package encoder

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aircast/aircast/internal/codec"
)

func testHeader(serial uint32, size int) PacketHeader {
	f, _ := codec.ParseFormat("mpeg", "mp3")
	return PacketHeader{
		Format:     f,
		BitRate:    128,
		SampleRate: 44100,
		Channels:   2,
		Flags:      FlagMP3,
		Serial:     serial,
		Timestamp:  1.25,
		DataSize:   uint32(size),
	}
}

func TestClientPacketRoundTrip(t *testing.T) {
	t.Parallel()

	e := New(20, 48000, nil)
	c := e.RegisterClient()

	payload := []byte("encoded audio bytes")
	h := testHeader(7, len(payload))
	require.True(t, c.writePacket(&h, payload))

	p, err := c.GetPacket()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, h, p.Header)
	assert.Equal(t, payload, p.Data)
	assert.Equal(t, codec.KindMP3, p.Header.Format.Kind)

	p, err = c.GetPacket()
	require.NoError(t, err)
	assert.Nil(t, p, "ring must be empty after the only packet")
}

func TestClientZeroPayloadPacket(t *testing.T) {
	t.Parallel()

	e := New(21, 48000, nil)
	c := e.RegisterClient()

	h := testHeader(3, 0)
	h.Flags = FlagMP3 | FlagFinal
	require.True(t, c.writePacket(&h, nil))

	p, err := c.GetPacket()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.NotZero(t, p.Header.Flags&FlagFinal)
	assert.Empty(t, p.Data)
}

func TestClientBackpressureDropsOnlySaturated(t *testing.T) {
	t.Parallel()

	e := New(22, 48000, nil)
	full := e.RegisterClient()
	healthy := e.RegisterClient()

	payload := make([]byte, 100*1024)
	fit := clientRingBytes / (HeaderSize + len(payload))

	// saturate one client up front
	for i := 0; i < fit; i++ {
		h := testHeader(uint32(i), len(payload))
		require.True(t, full.writePacket(&h, payload))
	}

	const burst = 3
	for i := 0; i < burst; i++ {
		h := testHeader(uint32(100+i), len(payload))
		e.writePacketAll(&h, payload)
	}

	assert.True(t, full.PerformanceWarning(), "overflow must raise the warning")
	assert.False(t, healthy.PerformanceWarning())

	// the healthy client got the whole burst
	for i := 0; i < burst; i++ {
		p, err := healthy.GetPacket()
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, uint32(100+i), p.Header.Serial)
	}

	// the saturated client still holds only its pre-burst packets
	got := 0
	for {
		p, err := full.GetPacket()
		require.NoError(t, err)
		if p == nil {
			break
		}
		assert.Less(t, p.Header.Serial, uint32(100))
		got++
	}
	assert.Equal(t, fit, got)
}

func TestClientCorruptRingDetected(t *testing.T) {
	t.Parallel()

	e := New(23, 48000, nil)
	c := e.RegisterClient()
	c.ring.Write(bytes.Repeat([]byte{0xAB}, HeaderSize))

	_, err := c.GetPacket()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadMagic)

	p, err := c.GetPacket()
	require.NoError(t, err)
	assert.Nil(t, p, "ring is reset after corruption")
}

func TestRegisterUnregisterClient(t *testing.T) {
	t.Parallel()

	e := New(24, 48000, nil)
	a := e.RegisterClient()
	b := e.RegisterClient()
	assert.Equal(t, 2, e.ClientCount())

	e.UnregisterClient(a)
	assert.Equal(t, 1, e.ClientCount())

	// packets only reach the remaining client
	h := testHeader(1, 0)
	e.writePacketAll(&h, nil)
	p, err := b.GetPacket()
	require.NoError(t, err)
	assert.NotNil(t, p)
	p, err = a.GetPacket()
	require.NoError(t, err)
	assert.Nil(t, p)

	e.UnregisterClient(b)
	assert.Equal(t, 0, e.ClientCount())
}
