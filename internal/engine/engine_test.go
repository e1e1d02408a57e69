package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aircast/aircast/internal/codec"
	"github.com/aircast/aircast/internal/conf"
	"github.com/aircast/aircast/internal/encoder"
)

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Pool.Encoders = 2
	s.Pool.Streamers = 1
	s.Pool.Recorders = 2
	s.Audio.SampleRate = 48000
	s.Audio.PeriodFrames = 480
	s.Audio.Device = "none"
	return s
}

func TestEnginePoolLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := New(testSettings(), nil)
	require.NoError(t, e.Start())
	defer e.Shutdown()

	assert.Equal(t, 2, e.EncoderCount())
	assert.Equal(t, 1, e.StreamerCount())
	assert.Equal(t, 2, e.RecorderCount())
	assert.Equal(t, 4, e.Feed.ConsumerCount(), "encoders and recorders feed off the capture")

	enc, err := e.Encoder(1)
	require.NoError(t, err)
	assert.NotNil(t, enc)

	_, err = e.Encoder(2)
	assert.Error(t, err)
	_, err = e.Streamer(-1)
	assert.Error(t, err)
	_, err = e.Recorder(5)
	assert.Error(t, err)
}

func TestEngineFeedsSilenceIntoEncoders(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := New(testSettings(), nil)
	require.NoError(t, e.Start())
	defer e.Shutdown()

	enc, err := e.Encoder(0)
	require.NoError(t, err)
	c := enc.RegisterClient()

	f, err := codec.ParseFormat("mpeg", "mp3")
	require.NoError(t, err)
	require.NoError(t, enc.Start(encoder.Config{
		Format: f, BitRate: 128, SampleRate: 48000, Channels: 2,
	}))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, err := c.GetPacket()
		require.NoError(t, err)
		if p != nil && p.Header.Flags&encoder.FlagMP3 != 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no encoded packets arrived from the silent feed")
}
