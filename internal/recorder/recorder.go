// Package recorder implements the recording slots: long-lived workers that
// either capture feed PCM straight to a lossless file or attach to a running
// encoder's output chain and write its packets to disk, reconstructing
// chapter metadata, cue sheets and the variable-bitrate summary tag when the
// session ends.
package recorder

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/wav"

	"github.com/aircast/aircast/internal/audio"
	"github.com/aircast/aircast/internal/codec"
	"github.com/aircast/aircast/internal/encoder"
	"github.com/aircast/aircast/internal/errors"
	"github.com/aircast/aircast/internal/id3"
	"github.com/aircast/aircast/internal/logging"
	"github.com/aircast/aircast/internal/observability/metrics"
)

// Mode is the recorder state machine position. The numeric values are part
// of the control channel report format.
type Mode int32

const (
	ModeStopped Mode = iota
	ModeRecording
	ModePaused
	ModeStopping
)

func (m Mode) String() string {
	switch m {
	case ModeStopped:
		return "stopped"
	case ModeRecording:
		return "recording"
	case ModePaused:
		return "paused"
	case ModeStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

const (
	pollInterval = 10 * time.Millisecond
	stopTimeout  = 10 * time.Second

	// ringSamples sizes the lossless capture rings per channel.
	ringSamples = 10000

	// chunkFrames is the lossless write granularity.
	chunkFrames = 256

	// tagPadding is the ID3 padding left after the chapter tag.
	tagPadding = 512

	losslessBitDepth = 24
)

// metadataItem is one chapter boundary logged while recording.
type metadataItem struct {
	artist, title, album         string
	timeOffset, byteOffset       int
	timeOffsetEnd, byteOffsetEnd int
}

// session holds the per-recording state owned by the slot goroutine.
type session struct {
	op  *encoder.Client // nil in lossless mode
	enc *encoder.Encoder

	file    *os.File
	cueFile *os.File
	wavEnc  *wav.Encoder

	pathname    string
	cuePathname string
	timestamp   string

	initialSerial int64 // -1 in lossless mode
	finalSerial   uint32

	accumulatedTime float64
	lengthS         int
	lengthMS        int
	bytesWritten    int
	sfSamples       int
	sampleRate      int

	inL, inR *audio.RingChannel
	left     []float32
	right    []float32
	combined []int

	id3Mode     bool
	includeXing bool
	isVBR       bool
	oldBitrate  int
	oldRate     int
	firstHeader [4]byte

	mi  []metadataItem
	mi2 []id3.Segment

	trackWrites int
}

// Recorder is one recording slot. Its goroutine is created at pool
// construction, parks on a condition variable while stopped, and lives until
// Shutdown.
type Recorder struct {
	id      int
	log     *slog.Logger
	metrics *metrics.RecorderMetrics

	mode      atomic.Int32
	modeMu    sync.Mutex
	modeCv    *sync.Cond
	terminate atomic.Bool

	length atomic.Int32 // whole seconds recorded, for control reports

	stopRequest    atomic.Bool
	stopPending    atomic.Bool
	pauseRequest   atomic.Bool
	pausePending   atomic.Bool
	unpauseRequest atomic.Bool

	gate atomic.Int32 // lossless feed gate

	metaMu         sync.Mutex
	artist         string
	title          string
	album          string
	newArtistTitle bool

	sess *session
	done chan struct{}
}

// New creates a recorder slot. Run must be started on its own goroutine.
func New(id int, m *metrics.RecorderMetrics) *Recorder {
	r := &Recorder{
		id:      id,
		log:     logging.ForService("recorder").With("slot", id),
		metrics: m,
		done:    make(chan struct{}),
	}
	r.modeCv = sync.NewCond(&r.modeMu)
	return r
}

// ID returns the slot number.
func (r *Recorder) ID() int { return r.id }

// Mode returns the state machine position.
func (r *Recorder) Mode() Mode { return Mode(r.mode.Load()) }

// LengthSeconds returns the whole seconds recorded in the current session.
func (r *Recorder) LengthSeconds() int {
	return int(r.length.Load())
}

// Done is closed when the slot goroutine has exited.
func (r *Recorder) Done() <-chan struct{} { return r.done }

func (r *Recorder) setMode(m Mode) {
	r.mode.Store(int32(m))
}

// signalMode moves the state machine under the mode lock and wakes the
// parked goroutine.
func (r *Recorder) signalMode(m Mode) {
	r.modeMu.Lock()
	r.setMode(m)
	r.modeCv.Signal()
	r.modeMu.Unlock()
}

// fileExtension maps an encoder format to the recording file extension and
// reports whether the format takes ID3 tagging and the Xing summary.
func fileExtension(f codec.Format) (ext string, id3Mode, xing bool, err error) {
	switch f.Family {
	case codec.FamilyOgg:
		return ".oga", false, false, nil
	case codec.FamilyWebM:
		return ".webm", false, false, nil
	case codec.FamilyMPEG:
		switch f.Kind {
		case codec.KindMP3:
			return ".mp3", true, true, nil
		case codec.KindMP2:
			return ".mp2", true, false, nil
		case codec.KindAAC, codec.KindAACPlusV2:
			return ".aac", true, false, nil
		}
	}
	return "", false, false, errors.Newf("no recording support for format %s", f).
		Component(errors.ComponentRecorder).
		Category(errors.CategoryConfiguration).
		Build()
}

// StartAttached begins recording the packet output of a running encoder.
// The recording commences at the next segment boundary, so no audio from
// before the attachment lands in the file.
func (r *Recorder) StartAttached(enc *encoder.Encoder, folder, filename string) error {
	if r.Mode() != ModeStopped {
		return errors.Newf("recorder %d is not stopped", r.id).
			Component(errors.ComponentRecorder).
			Category(errors.CategoryState).
			Build()
	}
	if !enc.Running() {
		return errors.Newf("encoder %d is not running", enc.ID()).
			Component(errors.ComponentRecorder).
			Category(errors.CategoryState).
			Build()
	}
	ext, id3Mode, xing, err := fileExtension(enc.Config().Format)
	if err != nil {
		return err
	}

	s := &session{
		enc:         enc,
		id3Mode:     id3Mode,
		includeXing: xing,
	}
	s.setPaths(folder, filename, ext)

	s.file, err = os.Create(s.pathname)
	if err != nil {
		return errors.New(err).
			Component(errors.ComponentRecorder).
			Category(errors.CategoryFileIO).
			Context("path", s.pathname).
			Build()
	}

	s.op = enc.RegisterClient()
	s.initialSerial = int64(s.op.SetFlush()) + 1
	r.log.Info("awaiting serial to commence", "serial", s.initialSerial, "path", s.pathname)

	r.sess = s
	r.startSession()
	return nil
}

// StartLossless begins capturing feed PCM straight to a lossless file with a
// live cue sheet alongside it.
func (r *Recorder) StartLossless(sampleRate int, folder, filename string) error {
	if r.Mode() != ModeStopped {
		return errors.Newf("recorder %d is not stopped", r.id).
			Component(errors.ComponentRecorder).
			Category(errors.CategoryState).
			Build()
	}

	s := &session{
		initialSerial: -1,
		sampleRate:    sampleRate,
	}
	s.setPaths(folder, filename, ".wav")

	var err error
	if s.file, err = os.Create(s.pathname); err != nil {
		return errors.New(err).
			Component(errors.ComponentRecorder).
			Category(errors.CategoryFileIO).
			Context("path", s.pathname).
			Build()
	}
	if s.cueFile, err = os.Create(s.cuePathname); err != nil {
		s.file.Close()
		os.Remove(s.pathname)
		return errors.New(err).
			Component(errors.ComponentRecorder).
			Category(errors.CategoryFileIO).
			Context("path", s.cuePathname).
			Build()
	}
	writeCueHeader(s.cueFile, s.timestamp, filepath.Base(s.pathname), "WAVE")

	s.wavEnc = wav.NewEncoder(s.file, sampleRate, losslessBitDepth, 2, 1)
	s.inL = audio.NewRingChannel(ringSamples)
	s.inR = audio.NewRingChannel(ringSamples)
	s.left = make([]float32, chunkFrames)
	s.right = make([]float32, chunkFrames)
	s.combined = make([]int, chunkFrames*2)

	r.metaMu.Lock()
	// force a first cue track even if no metadata arrives
	r.newArtistTitle = true
	r.metaMu.Unlock()

	r.sess = s
	r.gate.Store(int32(encoder.DataflowOn))
	r.log.Info("lossless recording started", "path", s.pathname, "samplerate", sampleRate)
	r.startSession()
	return nil
}

// startSession signals the parked goroutine into the recording session. A
// pause requested before the start takes effect immediately.
func (r *Recorder) startSession() {
	r.metrics.RecordSession(r.id, "started")
	r.modeMu.Lock()
	if r.pauseRequest.Load() {
		r.setMode(ModePaused)
	} else {
		r.setMode(ModeRecording)
	}
	r.modeCv.Signal()
	r.modeMu.Unlock()
}

func (s *session) setPaths(folder, filename, ext string) {
	s.pathname = filepath.Join(folder, filename+ext)
	s.cuePathname = strings.TrimSuffix(s.pathname, ext) + ".cue"
	s.timestamp = time.Now().Format("[2006-01-02][15:04:05]")
}

// Stop requests termination and waits, with bounded polling, until the
// state machine reports stopped. Files written so far are always kept.
func (r *Recorder) Stop() error {
	if r.Mode() == ModeStopped {
		return errors.Newf("recorder %d is already stopped", r.id).
			Component(errors.ComponentRecorder).
			Category(errors.CategoryState).
			Build()
	}
	r.stopRequest.Store(true)
	deadline := time.Now().Add(stopTimeout)
	for r.Mode() != ModeStopped {
		if time.Now().After(deadline) {
			return errors.Newf("recorder %d stop timed out", r.id).
				Component(errors.ComponentRecorder).
				Category(errors.CategoryState).
				Build()
		}
		time.Sleep(pollInterval)
	}
	r.log.Info("stopped")
	return nil
}

// Pause requests a flush-synchronized pause and waits for it to take
// effect. Pausing an already paused recorder fails; pausing a stopped one
// just arms the pause for the next start.
func (r *Recorder) Pause() error {
	r.unpauseRequest.Store(false)
	r.pauseRequest.Store(true)
	switch r.Mode() {
	case ModeRecording:
		deadline := time.Now().Add(stopTimeout)
		for r.Mode() == ModeRecording {
			if time.Now().After(deadline) {
				return errors.Newf("recorder %d pause timed out", r.id).
					Component(errors.ComponentRecorder).
					Category(errors.CategoryState).
					Build()
			}
			time.Sleep(pollInterval)
		}
	case ModePaused:
		return errors.Newf("recorder %d is already paused", r.id).
			Component(errors.ComponentRecorder).
			Category(errors.CategoryState).
			Build()
	}
	return nil
}

// Unpause resumes a paused recording at the next segment boundary.
func (r *Recorder) Unpause() error {
	r.pauseRequest.Store(false)
	r.unpauseRequest.Store(true)
	if r.Mode() != ModePaused {
		return errors.Newf("recorder %d is not paused", r.id).
			Component(errors.ComponentRecorder).
			Category(errors.CategoryState).
			Build()
	}
	deadline := time.Now().Add(stopTimeout)
	for r.Mode() == ModePaused {
		if time.Now().After(deadline) {
			return errors.Newf("recorder %d unpause timed out", r.id).
				Component(errors.ComponentRecorder).
				Category(errors.CategoryState).
				Build()
		}
		time.Sleep(pollInterval)
	}
	return nil
}

// NewMetadata replaces the track metadata used for the lossless cue sheet.
func (r *Recorder) NewMetadata(artist, title, album string) {
	r.metaMu.Lock()
	r.artist = artist
	r.title = title
	r.album = album
	r.newArtistTitle = true
	r.metaMu.Unlock()
}

// FeedAudio accepts one deinterleaved capture buffer for the lossless path.
// It never blocks; excess samples are dropped. Returns the dropped count.
func (r *Recorder) FeedAudio(left, right []float32) int {
	switch encoder.Dataflow(r.gate.Load()) {
	case encoder.DataflowOff:
		return 0
	case encoder.DataflowFlush:
		s := r.sess
		if s != nil && s.inL != nil {
			s.inL.Reset()
			s.inR.Reset()
		}
		r.gate.Store(int32(encoder.DataflowOff))
		return 0
	}
	s := r.sess
	if s == nil || s.inL == nil {
		return 0
	}
	n := len(left)
	if free := s.inL.Free(); free < n {
		n = free
	}
	if free := s.inR.Free(); free < n {
		n = free
	}
	if n > 0 {
		s.inL.WriteFloats(left[:n])
		s.inR.WriteFloats(right[:n])
	}
	return len(left) - n
}

// Shutdown asks the slot goroutine to exit; an active session is stopped
// first. Run returns once the goroutine is done.
func (r *Recorder) Shutdown() {
	if r.Mode() != ModeStopped {
		r.stopRequest.Store(true)
	}
	r.modeMu.Lock()
	r.terminate.Store(true)
	r.modeCv.Signal()
	r.modeMu.Unlock()
}
