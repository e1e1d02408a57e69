package recorder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aircast/aircast/internal/codec"
	"github.com/aircast/aircast/internal/encoder"
)

func init() {
	codec.Register(codec.FamilyMPEG, codec.KindMP3, "pcm-test", codec.NewPCMEngine)
}

func mp3Format(t *testing.T) codec.Format {
	t.Helper()
	f, err := codec.ParseFormat("mpeg", "mp3")
	require.NoError(t, err)
	return f
}

// startEncoder brings up a running encoder slot with a background audio
// pump. The returned stop function tears both down.
func startEncoder(t *testing.T) (*encoder.Encoder, func()) {
	t.Helper()
	e := encoder.New(0, 48000, nil)
	go e.Run()
	require.NoError(t, e.Start(encoder.Config{
		Format: mp3Format(t), BitRate: 128, SampleRate: 48000, Channels: 2,
	}))

	stop := make(chan struct{})
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		buf := make([]float32, 512)
		for {
			select {
			case <-stop:
				return
			default:
			}
			e.FeedAudio(buf, buf)
			time.Sleep(2 * time.Millisecond)
		}
	}()
	return e, func() {
		close(stop)
		<-pumpDone
		e.Shutdown()
		<-e.Done()
	}
}

func waitMode(t *testing.T, r *Recorder, want Mode, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.Mode() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("recorder never reached %v, stuck at %v", want, r.Mode())
}

func TestFileExtension(t *testing.T) {
	t.Parallel()
	cases := []struct {
		family, kind string
		ext          string
		id3, xing    bool
	}{
		{"ogg", "vorbis", ".oga", false, false},
		{"ogg", "opus", ".oga", false, false},
		{"webm", "opus", ".webm", false, false},
		{"mpeg", "mp3", ".mp3", true, true},
		{"mpeg", "mp2", ".mp2", true, false},
		{"mpeg", "aac", ".aac", true, false},
		{"mpeg", "aacplusv2", ".aac", true, false},
	}
	for _, tc := range cases {
		f, err := codec.ParseFormat(tc.family, tc.kind)
		require.NoError(t, err)
		ext, id3Mode, xing, err := fileExtension(f)
		require.NoError(t, err, "%s/%s", tc.family, tc.kind)
		assert.Equal(t, tc.ext, ext)
		assert.Equal(t, tc.id3, id3Mode)
		assert.Equal(t, tc.xing, xing)
	}
}

func TestStopWhenStoppedErrors(t *testing.T) {
	t.Parallel()
	r := New(0, nil)
	assert.Error(t, r.Stop())
}

func TestAppendMetadataDeduplicates(t *testing.T) {
	t.Parallel()
	s := &session{}
	assert.True(t, s.appendMetadata([]byte("custom\nArtist\nTitle\nAlbum")))
	assert.False(t, s.appendMetadata([]byte("other custom\nArtist\nTitle\nAlbum")),
		"identical artist, title and album must not open a new chapter")
	require.Len(t, s.mi, 1)

	s.lengthMS = 4000
	s.bytesWritten = 64000
	assert.True(t, s.appendMetadata([]byte("\nArtist\nNext Title\n")))
	require.Len(t, s.mi, 2)
	assert.Equal(t, 4000, s.mi[0].timeOffsetEnd)
	assert.Equal(t, 64000, s.mi[0].byteOffsetEnd)
	assert.Equal(t, "Next Title", s.mi[1].title)
	assert.Equal(t, "", s.mi[1].album)
}

func TestAppendMetadataCloseOut(t *testing.T) {
	t.Parallel()

	// closing an empty list still yields one untitled chapter
	s := &session{}
	s.appendMetadata(nil)
	require.Len(t, s.mi, 1)
	assert.Equal(t, "", s.mi[0].title)

	// closing a populated list only seals the last chapter's end
	s = &session{}
	s.appendMetadata([]byte("\nA\nT\n"))
	s.lengthMS = 9000
	s.bytesWritten = 123456
	s.appendMetadata(nil)
	require.Len(t, s.mi, 1)
	assert.Equal(t, 9000, s.mi[0].timeOffsetEnd)
	assert.Equal(t, 123456, s.mi[0].byteOffsetEnd)
}

func TestAppendSegmentDetectsVariableBitrate(t *testing.T) {
	t.Parallel()
	s := &session{}
	h := &encoder.PacketHeader{
		BitRate: 128, SampleRate: 44100, Flags: encoder.FlagMP3,
	}
	s.appendSegment(h)
	assert.False(t, s.isVBR, "first segment sets the baseline only")

	s.lengthMS = 1000
	s.bytesWritten = 16000
	h2 := &encoder.PacketHeader{
		BitRate: 192, SampleRate: 44100, Flags: encoder.FlagMP3,
	}
	s.appendSegment(h2)
	assert.True(t, s.isVBR)
	require.Len(t, s.mi2, 2)
	assert.Equal(t, 1000, s.mi2[0].FinishMS)
	assert.Equal(t, 16000, s.mi2[0].SizeBytes)
	assert.Equal(t, 192, s.mi2[1].BitRate)

	s.lengthMS = 2000
	s.bytesWritten = 40000
	s.appendSegment(nil)
	require.Len(t, s.mi2, 2, "close-out must not add a segment")
	assert.Equal(t, 2000, s.mi2[1].FinishMS)
	assert.Equal(t, 40000-16000, s.mi2[1].SizeBytes)
}

func TestLosslessRecordingWritesCue(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	r := New(1, nil)
	go r.Run()
	defer func() {
		r.Shutdown()
		<-r.Done()
	}()

	r.NewMetadata("First Artist", "First Title", "First Album")
	require.NoError(t, r.StartLossless(8000, dir, "take"))
	assert.Equal(t, ModeRecording, r.Mode())

	// give the first cue track a chance to land before audio accumulates
	time.Sleep(30 * time.Millisecond)

	// one second of silence
	chunk := make([]float32, 2000)
	for i := 0; i < 4; i++ {
		assert.Zero(t, r.FeedAudio(chunk, chunk))
		time.Sleep(20 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.LengthSeconds() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, r.LengthSeconds(), 1)

	r.NewMetadata("Second Artist", "Second Title", "")
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, r.Stop())
	assert.Equal(t, ModeStopped, r.Mode())

	wavData, err := os.ReadFile(filepath.Join(dir, "take.wav"))
	require.NoError(t, err)
	require.Greater(t, len(wavData), 44)
	assert.Equal(t, "RIFF", string(wavData[:4]))
	assert.Equal(t, "WAVE", string(wavData[8:12]))

	cue, err := os.ReadFile(filepath.Join(dir, "take.cue"))
	require.NoError(t, err)
	text := string(cue)
	assert.Contains(t, text, "PERFORMER \"Recorded with Aircast\"\r\n")
	assert.Contains(t, text, "FILE \"take.wav\" WAVE\r\n")
	assert.Contains(t, text, "  TRACK 01 AUDIO\r\n")
	assert.Contains(t, text, "    TITLE \"First Title\"\r\n")
	assert.Contains(t, text, "  TRACK 02 AUDIO\r\n")
	assert.Contains(t, text, "    PERFORMER \"Second Artist\"\r\n")

	// the first track always starts at zero
	first := strings.Index(text, "INDEX 01 ")
	require.GreaterOrEqual(t, first, 0)
	assert.Equal(t, "INDEX 01 00:00:00", text[first:first+len("INDEX 01 00:00:00")])
}

func TestAttachedRequiresRunningEncoder(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := encoder.New(0, 48000, nil)
	go e.Run()
	defer func() {
		e.Shutdown()
		<-e.Done()
	}()

	r := New(1, nil)
	err := r.StartAttached(e, t.TempDir(), "take")
	assert.Error(t, err)
}

func TestAttachedRecordingTagsFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	e, stopEnc := startEncoder(t)
	defer stopEnc()

	dir := t.TempDir()
	r := New(2, nil)
	go r.Run()
	defer func() {
		r.Shutdown()
		<-r.Done()
	}()

	require.NoError(t, r.StartAttached(e, dir, "show"))
	assert.Equal(t, ModeRecording, r.Mode())

	e.SetMetadata(encoder.Metadata{Artist: "DJ", Title: "Opening", Album: "Live"})

	// wait for some audio to land in the file
	deadline := time.Now().Add(5 * time.Second)
	for r.LengthSeconds() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.GreaterOrEqual(t, r.LengthSeconds(), 1)

	require.NoError(t, r.Stop())
	waitMode(t, r, ModeStopped, 2*time.Second)

	data, err := os.ReadFile(filepath.Join(dir, "show.mp3"))
	require.NoError(t, err)
	require.Greater(t, len(data), 10)
	assert.Equal(t, "ID3\x04\x00\x00", string(data[:6]),
		"finished recording must start with the chapter tag")
	assert.Contains(t, string(data), "Opening")

	cue, err := os.ReadFile(filepath.Join(dir, "show.cue"))
	require.NoError(t, err)
	text := string(cue)
	assert.Contains(t, text, "FILE \"show.mp3\" MP3\r\n")
	assert.Contains(t, text, "  TRACK 01 AUDIO\r\n")
	assert.Contains(t, text, "    INDEX 01 00:00:00\r\n")
}

func TestPauseResumeAttached(t *testing.T) {
	defer goleak.VerifyNone(t)

	e, stopEnc := startEncoder(t)
	defer stopEnc()

	r := New(3, nil)
	go r.Run()
	defer func() {
		r.Shutdown()
		<-r.Done()
	}()

	require.NoError(t, r.StartAttached(e, t.TempDir(), "pausetest"))
	require.NoError(t, r.Pause())
	assert.Equal(t, ModePaused, r.Mode())
	assert.Error(t, r.Pause(), "pausing twice must fail")

	require.NoError(t, r.Unpause())
	assert.Equal(t, ModeRecording, r.Mode())
	assert.Error(t, r.Unpause(), "unpausing while recording must fail")

	require.NoError(t, r.Stop())
}
