package control

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aircast/aircast/internal/conf"
	"github.com/aircast/aircast/internal/engine"
)

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	s := &conf.Settings{}
	s.Pool.Encoders = 2
	s.Pool.Streamers = 1
	s.Pool.Recorders = 1
	s.Audio.SampleRate = 48000
	s.Audio.PeriodFrames = 480
	s.Audio.Device = "none"

	e := engine.New(s, nil)
	require.NoError(t, e.Start())
	t.Cleanup(e.Shutdown)
	return e
}

// run feeds a script through a fresh dispatcher and returns the output.
func run(t *testing.T, e *engine.Engine, script string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, New(e).Run(strings.NewReader(script), &out))
	return out.String()
}

func TestSampleRateRequest(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	e := testEngine(t)

	out := run(t, e, "command=sample_rate_request\nend\n")
	assert.Contains(t, out, "idjcsc: sample_rate=48000\n")
	assert.Contains(t, out, "idjcsc: succeeded\n")
}

func TestCodecAvailability(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	e := testEngine(t)

	out := run(t, e, "command=encoder_codec_availability\nend\n")
	assert.Contains(t, out, "idjcsc: codecs=")
	assert.Contains(t, out, "mpeg/mp3=")
	assert.Contains(t, out, "idjcsc: succeeded\n")
}

func TestUnknownCommandFails(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	e := testEngine(t)

	out := run(t, e, "command=frobnicate\nend\n")
	assert.Contains(t, out, "idjcsc: failed\n")
	assert.NotContains(t, out, "succeeded")
}

func TestUnknownKeysAreIgnored(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	e := testEngine(t)

	out := run(t, e, "no_such_key=1\ncommand=sample_rate_request\nend\n")
	assert.Contains(t, out, "idjcsc: succeeded\n")
}

func TestBlockWithoutCommandProducesNoResponse(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	e := testEngine(t)

	out := run(t, e, "artist=A\ntitle=B\nend\n")
	assert.Empty(t, out)
}

func TestEncoderLifecycle(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	e := testEngine(t)

	script := strings.Join([]string{
		"family=mpeg",
		"codec=mp3",
		"bitrate=128",
		"samplerate=48000",
		"mode=stereo",
		"tab_id=0",
		"command=encoder_start",
		"end",
		// vars are sticky, so the restart needs no resend
		"command=encoder_update",
		"end",
		"command=encoder_stop",
		"end",
		"command=encoder_stop",
		"end",
	}, "\n") + "\n"

	out := run(t, e, script)
	verdicts := responses(out)
	require.Len(t, verdicts, 4)
	assert.Equal(t, "succeeded", verdicts[0])
	assert.Equal(t, "succeeded", verdicts[1])
	assert.Equal(t, "succeeded", verdicts[2])
	// stopping a stopped encoder is refused
	assert.Equal(t, "failed", verdicts[3])

	enc, err := e.Encoder(0)
	require.NoError(t, err)
	assert.False(t, enc.Running())
}

func TestSongMetadataFanOut(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	e := testEngine(t)

	script := strings.Join([]string{
		"artist=The Act",
		"title=Opening Number",
		"album=First Night",
		"tab_id=-1",
		"command=new_song_metadata",
		"end",
		"custom_meta=The Act - Opening Number",
		"tab_id=0",
		"command=new_custom_metadata",
		"end",
	}, "\n") + "\n"

	out := run(t, e, script)
	assert.Equal(t, []string{"succeeded", "succeeded"}, responses(out))
}

func TestRecorderReport(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	e := testEngine(t)

	out := run(t, e, "dev_type=recorder\ntab_id=0\ncommand=get_report\nend\n")
	assert.Contains(t, out, "idjcsc: recorder0report=0:0\n")
	assert.Contains(t, out, "idjcsc: succeeded\n")
}

func TestStreamerReport(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	e := testEngine(t)

	out := run(t, e, "dev_type=streamer\ntab_id=0\ncommand=get_report\nend\n")
	assert.Contains(t, out, "idjcsc: streamer0report=0:0:0\n")
	assert.Contains(t, out, "idjcsc: succeeded\n")
}

func TestEncoderReportIsRefused(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	e := testEngine(t)

	out := run(t, e, "dev_type=encoder\ntab_id=0\ncommand=get_report\nend\n")
	assert.Contains(t, out, "idjcsc: failed\n")
}

func TestReportOutOfRangeTab(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	e := testEngine(t)

	out := run(t, e, "dev_type=recorder\ntab_id=9\ncommand=get_report\nend\n")
	assert.Contains(t, out, "idjcsc: failed\n")
}

func TestRecorderStartRejectsBadSource(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	e := testEngine(t)

	script := strings.Join([]string{
		"record_source=0", // encoder 0 is not running
		"record_folder=" + t.TempDir(),
		"record_filename=take",
		"tab_id=0",
		"command=recorder_start",
		"end",
	}, "\n") + "\n"

	out := run(t, e, script)
	assert.Contains(t, out, "idjcsc: failed\n")
}

func TestServerConnectRejectsMalformedPort(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	e := testEngine(t)

	script := strings.Join([]string{
		"stream_source=0",
		"host=localhost",
		"port=not-a-port",
		"mount=/live",
		"login=source",
		"password=hackme",
		"tab_id=0",
		"command=server_connect",
		"end",
	}, "\n") + "\n"

	out := run(t, e, script)
	assert.Contains(t, out, "idjcsc: failed\n")
}

// responses extracts the succeeded/failed verdicts in order, skipping
// report lines.
func responses(out string) []string {
	var vs []string
	for _, line := range strings.Split(out, "\n") {
		switch line {
		case "idjcsc: succeeded":
			vs = append(vs, "succeeded")
		case "idjcsc: failed":
			vs = append(vs, "failed")
		}
	}
	return vs
}
