package encoder

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aircast/aircast/internal/audio"
	"github.com/aircast/aircast/internal/codec"
	"github.com/aircast/aircast/internal/errors"
	"github.com/aircast/aircast/internal/logging"
	"github.com/aircast/aircast/internal/observability/metrics"
)

// State is the encoder state machine position.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Dataflow is the feed gate position for one encoder's input rings.
type Dataflow int32

const (
	DataflowOff Dataflow = iota
	DataflowOn
	DataflowFlush
)

const (
	// pollInterval is the fixed sleep used by the bounded polling waits.
	pollInterval = 10 * time.Millisecond

	// startTimeout bounds how long Start waits for the session goroutine
	// to finish codec setup.
	startTimeout = 3 * time.Second

	// fadeSeconds is the nominal length of a fade to silence.
	fadeSeconds = 6.0

	// fadeFloor is the gain below which a fade counts as complete.
	fadeFloor = 0.0003
)

// Config holds one session's negotiated parameters.
type Config struct {
	Format     codec.Format
	BitRate    int // kb/s
	SampleRate int // target rate in Hz
	Channels   int
	Quality    float64
	Variable   bool
}

// Metadata is the stream metadata set from the control channel.
type Metadata struct {
	Artist string
	Title  string
	Album  string
	Custom string
}

// StreamText returns the single-line form used on stream title updates.
func (m Metadata) StreamText() string {
	if m.Custom != "" {
		return m.Custom
	}
	if m.Artist != "" {
		return m.Artist + " - " + m.Title
	}
	return m.Title
}

// PacketText returns the four-line form carried in metadata packets:
// custom, artist, title and album separated by newlines.
func (m Metadata) PacketText() string {
	return m.Custom + "\n" + m.Artist + "\n" + m.Title + "\n" + m.Album
}

// Encoder is one encoder slot. Its goroutine is created once at pool
// construction and lives until Shutdown; sessions start and stop within it.
type Encoder struct {
	id         int
	sourceRate int
	log        *slog.Logger
	metrics    *metrics.EncoderMetrics

	inL  *audio.RingChannel
	inR  *audio.RingChannel
	gate atomic.Int32

	state      atomic.Int32
	runRequest atomic.Bool
	restart    atomic.Bool
	flush      atomic.Bool
	shutdown   atomic.Bool
	serial     atomic.Uint32

	cfgMu    sync.Mutex
	pending  Config
	current  Config
	startErr error

	clientsMu sync.Mutex
	clients   []*Client

	metaMu  sync.Mutex
	meta    Metadata
	newMeta bool

	fadeMu     sync.Mutex
	gain       float64
	fadeActive bool
	fadeGain   float64
	fadeScale  float64

	hdrMu     sync.Mutex
	headerBuf []byte

	sess *session
	done chan struct{}
}

// New creates an encoder slot fed at sourceRate. Run must be started on its
// own goroutine before the slot accepts commands.
func New(id, sourceRate int, m *metrics.EncoderMetrics) *Encoder {
	return &Encoder{
		id:         id,
		sourceRate: sourceRate,
		log:        logging.ForService("encoder").With("slot", id),
		metrics:    m,
		inL:        audio.NewRingChannel(sourceRate),
		inR:        audio.NewRingChannel(sourceRate),
		gain:       1.0,
		fadeGain:   1.0,
		done:       make(chan struct{}),
	}
}

// Done is closed when the slot goroutine has exited.
func (e *Encoder) Done() <-chan struct{} { return e.done }

// ID returns the slot number.
func (e *Encoder) ID() int { return e.id }

// State returns the current state machine position.
func (e *Encoder) State() State { return State(e.state.Load()) }

func (e *Encoder) setState(s State) {
	e.state.Store(int32(s))
	e.metrics.SetState(e.id, int(s))
}

// Serial returns the current segment serial.
func (e *Encoder) Serial() uint32 { return e.serial.Load() }

// Running reports whether a session is active or being set up.
func (e *Encoder) Running() bool {
	s := e.State()
	return s == StateStarting || s == StateRunning || e.runRequest.Load()
}

// Config returns the parameters of the current session.
func (e *Encoder) Config() Config {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	return e.current
}

// Start validates cfg, hands it to the slot goroutine and waits for codec
// setup to succeed or fail. Failure leaves the slot stopped and is safe to
// retry.
func (e *Encoder) Start(cfg Config) error {
	if e.State() != StateStopped || e.runRequest.Load() {
		return errors.Newf("encoder %d is not stopped", e.id).
			Component(errors.ComponentEncoder).
			Category(errors.CategoryState).
			Build()
	}
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return errors.Newf("unsupported channel count %d", cfg.Channels).
			Component(errors.ComponentEncoder).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.SampleRate <= 0 {
		return errors.Newf("bad target sample rate %d", cfg.SampleRate).
			Component(errors.ComponentEncoder).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if _, err := backendTraitsFor(cfg); err != nil {
		return err
	}

	e.cfgMu.Lock()
	e.pending = cfg
	e.startErr = nil
	e.cfgMu.Unlock()
	e.runRequest.Store(true)

	deadline := time.Now().Add(startTimeout)
	for time.Now().Before(deadline) {
		switch e.State() {
		case StateRunning:
			return nil
		case StateStopped:
			if !e.runRequest.Load() {
				e.cfgMu.Lock()
				err := e.startErr
				e.cfgMu.Unlock()
				if err == nil {
					err = errors.Newf("encoder %d failed to start", e.id).
						Component(errors.ComponentEncoder).
						Category(errors.CategoryCodecInit).
						Build()
				}
				return err
			}
		}
		time.Sleep(pollInterval)
	}
	return errors.Newf("encoder %d start timed out", e.id).
		Component(errors.ComponentEncoder).
		Category(errors.CategoryCodecInit).
		Build()
}

// Stop requests a graceful session end. It does not wait for the state
// machine to reach stopped.
func (e *Encoder) Stop() error {
	if !e.Running() && e.State() == StateStopped {
		return errors.Newf("encoder %d already stopped", e.id).
			Component(errors.ComponentEncoder).
			Category(errors.CategoryState).
			Build()
	}
	e.runRequest.Store(false)
	return nil
}

// Update hot-swaps gain and bit rate on a running session. A bit rate change
// restarts the session in place, preserving every other parameter; gain
// changes apply immediately to the input stage.
func (e *Encoder) Update(bitRate int, gain float64) error {
	if e.State() != StateRunning {
		return errors.Newf("encoder %d not running", e.id).
			Component(errors.ComponentEncoder).
			Category(errors.CategoryState).
			Build()
	}
	if gain > 0 {
		e.fadeMu.Lock()
		e.gain = gain
		e.fadeMu.Unlock()
	}
	e.cfgMu.Lock()
	if bitRate > 0 && bitRate != e.current.BitRate {
		e.pending = e.current
		e.pending.BitRate = bitRate
		e.cfgMu.Unlock()
		e.restart.Store(true)
		return nil
	}
	e.cfgMu.Unlock()
	return nil
}

// InitiateFade starts a linear gain ramp to silence. Completion proceeds to
// the normal stop sequence.
func (e *Encoder) InitiateFade() error {
	if e.State() != StateRunning {
		return errors.Newf("encoder %d not running", e.id).
			Component(errors.ComponentEncoder).
			Category(errors.CategoryState).
			Build()
	}
	rate := e.Config().SampleRate
	e.fadeMu.Lock()
	e.fadeActive = true
	e.fadeGain = 1.0
	e.fadeScale = fadeScaleFor(rate)
	e.fadeMu.Unlock()
	return nil
}

// SetMetadata replaces the stream metadata and arms the pending-metadata
// trigger picked up by the session loop.
func (e *Encoder) SetMetadata(m Metadata) {
	e.metaMu.Lock()
	e.meta = m
	e.newMeta = true
	e.metaMu.Unlock()
}

// SetSongMetadata stores the track fields without arming the trigger. The
// per-stream custom line always follows on the control channel and arms it.
func (e *Encoder) SetSongMetadata(artist, title, album string) {
	e.metaMu.Lock()
	e.meta.Artist = artist
	e.meta.Title = title
	e.meta.Album = album
	e.newMeta = false
	e.metaMu.Unlock()
}

// SetCustomMetadata stores the per-stream custom line and arms the
// pending-metadata trigger.
func (e *Encoder) SetCustomMetadata(custom string) {
	e.metaMu.Lock()
	e.meta.Custom = custom
	e.newMeta = true
	e.metaMu.Unlock()
}

func (e *Encoder) takeMetadata() (Metadata, bool) {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	if !e.newMeta {
		return Metadata{}, false
	}
	e.newMeta = false
	return e.meta, true
}

// requestFlush arms the segment cut and returns the serial in effect.
func (e *Encoder) requestFlush() uint32 {
	serial := e.serial.Load()
	if e.State() == StateRunning {
		e.flush.Store(true)
	}
	return serial
}

// RegisterClient attaches a new output-chain client.
func (e *Encoder) RegisterClient() *Client {
	c := newClient(e)
	e.clientsMu.Lock()
	e.clients = append(e.clients, c)
	n := len(e.clients)
	e.clientsMu.Unlock()
	e.metrics.SetClientCount(e.id, n)
	return c
}

// UnregisterClient detaches a client; its buffered packets are discarded.
func (e *Encoder) UnregisterClient(c *Client) {
	e.clientsMu.Lock()
	for i, have := range e.clients {
		if have == c {
			e.clients = append(e.clients[:i], e.clients[i+1:]...)
			break
		}
	}
	n := len(e.clients)
	e.clientsMu.Unlock()
	e.metrics.SetClientCount(e.id, n)
}

// ClientCount returns the output-chain length.
func (e *Encoder) ClientCount() int {
	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()
	return len(e.clients)
}

// writePacketAll fans one packet out to every attached client. The client
// list is snapshotted so a slow client ring write never holds the list lock.
// A full client ring drops the packet for that client only.
func (e *Encoder) writePacketAll(h *PacketHeader, payload []byte) {
	e.clientsMu.Lock()
	snapshot := append([]*Client(nil), e.clients...)
	e.clientsMu.Unlock()

	for _, c := range snapshot {
		if c.writePacket(h, payload) {
			e.metrics.RecordPacketWritten(e.id)
		} else {
			e.metrics.RecordPacketDropped(e.id)
			e.log.Debug("packet dropped for slow client",
				"serial", h.Serial, "size", h.DataSize)
		}
	}
}

// HeaderBytes returns a copy of the cached container header for late-joining
// clients, or nil for header-less formats.
func (e *Encoder) HeaderBytes() []byte {
	e.hdrMu.Lock()
	defer e.hdrMu.Unlock()
	if e.headerBuf == nil {
		return nil
	}
	out := make([]byte, len(e.headerBuf))
	copy(out, e.headerBuf)
	return out
}

func (e *Encoder) cacheHeader(b []byte) {
	e.hdrMu.Lock()
	if b == nil {
		e.headerBuf = nil
	} else {
		e.headerBuf = append(e.headerBuf[:0], b...)
	}
	e.hdrMu.Unlock()
}

// FeedAudio is called from the capture callback with one deinterleaved
// buffer. It never blocks: when the input rings cannot take the whole buffer
// the excess is dropped and counted. Returns the number of dropped samples.
func (e *Encoder) FeedAudio(left, right []float32) int {
	switch Dataflow(e.gate.Load()) {
	case DataflowOff:
		return 0
	case DataflowFlush:
		e.inL.Reset()
		e.inR.Reset()
		e.gate.Store(int32(DataflowOff))
		return 0
	}

	n := len(left)
	if free := e.inL.Free(); free < n {
		n = free
	}
	if free := e.inR.Free(); free < n {
		n = free
	}
	if n > 0 {
		e.inL.WriteFloats(left[:n])
		e.inR.WriteFloats(right[:n])
	}
	dropped := len(left) - n
	if dropped > 0 {
		e.metrics.RecordInputOverflow(e.id)
	}
	return dropped
}

// SetDataflow moves the feed gate.
func (e *Encoder) SetDataflow(d Dataflow) {
	e.gate.Store(int32(d))
}

// Shutdown asks the slot goroutine to exit after tearing down any active
// session. Run returns once teardown completes.
func (e *Encoder) Shutdown() {
	e.shutdown.Store(true)
	e.runRequest.Store(false)
}

// fadeScaleFor derives the per-sample fade decay reaching fadeFloor after
// fadeSeconds at the given rate.
func fadeScaleFor(rate int) float64 {
	return math.Pow(fadeFloor, 1.0/(fadeSeconds*float64(rate)))
}
