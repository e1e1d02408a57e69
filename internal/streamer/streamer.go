// Package streamer implements the network streamer slots: long-lived workers
// that attach to a running encoder's output chain and relay its packet
// payloads to an icecast-style server. The relay commences at a segment
// boundary so the server always sees a clean bitstream start.
package streamer

import (
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aircast/aircast/internal/codec"
	"github.com/aircast/aircast/internal/encoder"
	"github.com/aircast/aircast/internal/errors"
	"github.com/aircast/aircast/internal/logging"
	"github.com/aircast/aircast/internal/observability/metrics"
)

// Mode is the streamer state machine position. The numeric values are part
// of the control channel report format.
type Mode int32

const (
	ModeDisconnected Mode = iota
	ModeConnecting
	ModeConnected
	ModeDisconnecting
)

func (m Mode) String() string {
	switch m {
	case ModeDisconnected:
		return "disconnected"
	case ModeConnecting:
		return "connecting"
	case ModeConnected:
		return "connected"
	case ModeDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

const (
	pollInterval = 10 * time.Millisecond
	stopTimeout  = 10 * time.Second

	// bufferSeconds is how much audio the send queue holds before packet
	// dumping takes place.
	bufferSeconds = 9
)

// ConnectParams describes the server to stream to.
type ConnectParams struct {
	Host     string
	Port     int
	Mount    string
	User     string
	Password string
	UseTLS   bool

	// Stream directory fields forwarded in the handshake.
	Name        string
	Genre       string
	URL         string
	Description string
	Public      bool
}

// session holds per-connection state owned by the slot goroutine.
type session struct {
	op     *encoder.Client
	enc    *encoder.Encoder
	params ConnectParams
	conn   *serverConn

	initialSerial int64
	finalSerial   uint32

	disconnectPending bool
	maxQueue          int64
	connectStart      time.Time
}

// Streamer is one streamer slot. Its goroutine is created at pool
// construction, parks while disconnected, and lives until Shutdown.
type Streamer struct {
	id      int
	log     *slog.Logger
	metrics *metrics.StreamerMetrics

	mode      atomic.Int32
	modeMu    sync.Mutex
	modeCv    *sync.Cond
	terminate atomic.Bool

	disconnectRequest atomic.Bool
	newConnection     atomic.Bool
	queueFill         atomic.Int64 // percent

	sess *session
	done chan struct{}
}

// New creates a streamer slot. Run must be started on its own goroutine.
func New(id int, m *metrics.StreamerMetrics) *Streamer {
	s := &Streamer{
		id:      id,
		log:     logging.ForService("streamer").With("slot", id),
		metrics: m,
		done:    make(chan struct{}),
	}
	s.modeCv = sync.NewCond(&s.modeMu)
	return s
}

// ID returns the slot number.
func (s *Streamer) ID() int { return s.id }

// Mode returns the state machine position.
func (s *Streamer) Mode() Mode { return Mode(s.mode.Load()) }

// QueueFillPercent returns the send queue fill level for reports.
func (s *Streamer) QueueFillPercent() int { return int(s.queueFill.Load()) }

// NewConnection reports, once per connection, that the server link is
// freshly established.
func (s *Streamer) NewConnection() bool { return s.newConnection.Swap(false) }

// Done is closed when the slot goroutine has exited.
func (s *Streamer) Done() <-chan struct{} { return s.done }

func (s *Streamer) setMode(m Mode) {
	s.mode.Store(int32(m))
	s.metrics.SetMode(s.id, int(m))
}

// Connect attaches to a running encoder and begins connecting to the
// server. The handshake itself happens on the slot goroutine.
func (s *Streamer) Connect(enc *encoder.Encoder, p ConnectParams) error {
	if s.Mode() != ModeDisconnected {
		return errors.Newf("streamer %d is not disconnected", s.id).
			Component(errors.ComponentStreamer).
			Category(errors.CategoryState).
			Build()
	}
	if !enc.Running() {
		return errors.Newf("encoder %d is not running", enc.ID()).
			Component(errors.ComponentStreamer).
			Category(errors.CategoryState).
			Build()
	}
	if p.Host == "" || p.Port == 0 || p.Mount == "" {
		return errors.Newf("incomplete server parameters").
			Component(errors.ComponentStreamer).
			Category(errors.CategoryValidation).
			Build()
	}

	s.sess = &session{
		op:           enc.RegisterClient(),
		enc:          enc,
		params:       p,
		connectStart: time.Now(),
	}
	s.disconnectRequest.Store(false)

	s.modeMu.Lock()
	s.setMode(ModeConnecting)
	s.modeCv.Signal()
	s.modeMu.Unlock()
	return nil
}

// Disconnect requests a flush-synchronized disconnect and waits, with
// bounded polling, for the slot to return to disconnected.
func (s *Streamer) Disconnect() error {
	if s.Mode() == ModeDisconnected {
		return errors.Newf("streamer %d is not connected", s.id).
			Component(errors.ComponentStreamer).
			Category(errors.CategoryState).
			Build()
	}
	s.disconnectRequest.Store(true)
	deadline := time.Now().Add(stopTimeout)
	for s.Mode() != ModeDisconnected {
		if time.Now().After(deadline) {
			return errors.Newf("streamer %d disconnect timed out", s.id).
				Component(errors.ComponentStreamer).
				Category(errors.CategoryState).
				Build()
		}
		time.Sleep(pollInterval)
	}
	return nil
}

// Shutdown asks the slot goroutine to exit; an active connection is torn
// down first. Run returns once the goroutine is done.
func (s *Streamer) Shutdown() {
	if s.Mode() != ModeDisconnected {
		s.disconnectRequest.Store(true)
	}
	s.modeMu.Lock()
	s.terminate.Store(true)
	s.modeCv.Signal()
	s.modeMu.Unlock()
}

// Run is the slot goroutine body.
func (s *Streamer) Run() {
	defer close(s.done)
	for {
		time.Sleep(pollInterval)
		switch s.Mode() {
		case ModeDisconnected:
			s.modeMu.Lock()
			for s.Mode() == ModeDisconnected && !s.terminate.Load() {
				s.modeCv.Wait()
			}
			s.modeMu.Unlock()
			if s.terminate.Load() && s.Mode() == ModeDisconnected {
				return
			}
		case ModeConnecting:
			s.stepConnecting(s.sess)
		case ModeConnected:
			s.stepConnected(s.sess)
		case ModeDisconnecting:
			s.teardown(s.sess)
		}
	}
}

func (s *Streamer) stepConnecting(sess *session) {
	if s.disconnectRequest.Load() {
		s.setMode(ModeDisconnecting)
		return
	}
	conn, err := dialServer(sess.params, streamContentType(sess.enc.Config().Format))
	if err != nil {
		s.log.Error("connection failed", "host", sess.params.Host, "port", sess.params.Port, "error", err)
		s.metrics.RecordConnection(s.id, "failed")
		s.setMode(ModeDisconnecting)
		return
	}
	sess.conn = conn

	// grab the serial number and issue an encoder flush so the stream
	// starts contemporaneous with the encoder
	sess.initialSerial = int64(sess.op.SetFlush()) + 1
	s.log.Info("connected to server", "serial", sess.initialSerial,
		"mount", sess.params.Mount, "elapsed", time.Since(sess.connectStart))
	s.metrics.RecordConnection(s.id, "connected")
	s.newConnection.Store(true)
	s.setMode(ModeConnected)
}

func (s *Streamer) stepConnected(sess *session) {
	if err := sess.conn.Err(); err != nil {
		s.log.Error("server link lost", "error", err)
		s.setMode(ModeDisconnecting)
		return
	}
	if s.disconnectRequest.Load() && !sess.disconnectPending {
		sess.disconnectPending = true
		sess.finalSerial = sess.op.SetFlush()
		s.log.Info("disconnecting when the current segment completes", "serial", sess.finalSerial)
	}

	p, err := sess.op.GetPacket()
	if err != nil {
		s.log.Warn("output chain desynchronized", "error", err)
		return
	}
	if p == nil {
		return
	}
	h := &p.Header
	if int64(h.Serial) >= sess.initialSerial {
		if h.Flags&encoder.FlagInitial != 0 {
			// size the send queue from the segment bitrate
			br := int64(h.BitRate)
			if br > 1000 {
				br /= 1000
			}
			sess.maxQueue = (bufferSeconds * br) << 7
		}
		if h.Flags&flagAudio != 0 {
			data := p.Data
			if h.Flags&(encoder.FlagHeader|encoder.FlagFinal) == 0 &&
				sess.conn.QueueLen() >= sess.maxQueue {
				data = nil
				s.log.Warn("packet dumped, send queue full")
				s.metrics.RecordPacketDumped(s.id)
			}
			if len(data) > 0 {
				switch err := sess.conn.Send(data); {
				case err == nil:
					s.metrics.AddBytesSent(s.id, len(data))
				case stderrors.Is(err, ErrQueueFull):
					s.log.Warn("packet dumped, send queue full")
					s.metrics.RecordPacketDumped(s.id)
				default:
					s.log.Error("failed writing to stream", "error", err)
					s.setMode(ModeDisconnecting)
					return
				}
			}
			if sess.maxQueue > 0 {
				pc := sess.conn.QueueLen() * 100 / sess.maxQueue
				s.queueFill.Store(pc)
				s.metrics.SetQueueFill(s.id, float64(pc))
			}
		}
		if sess.disconnectPending &&
			(h.Serial > sess.finalSerial ||
				(h.Flags&encoder.FlagFinal != 0 && h.Serial == sess.finalSerial)) {
			s.log.Info("last packet wrote, disconnecting")
			s.setMode(ModeDisconnecting)
		}
	}
	if h.Flags&encoder.FlagMetadata != 0 {
		sess.conn.UpdateMetadata(sess.params, streamTitle(p.Data))
	}
}

func (s *Streamer) teardown(sess *session) {
	if sess.conn != nil {
		sess.conn.Close()
		sess.conn = nil
	}
	sess.enc.UnregisterClient(sess.op)
	s.sess = nil
	s.queueFill.Store(0)
	s.metrics.SetQueueFill(s.id, 0)
	s.disconnectRequest.Store(false)
	s.modeMu.Lock()
	s.setMode(ModeDisconnected)
	s.modeCv.Signal()
	s.modeMu.Unlock()
	s.log.Info("disconnection complete")
}

const flagAudio = encoder.FlagOgg | encoder.FlagMP3 | encoder.FlagMP2 |
	encoder.FlagAAC | encoder.FlagAACP2 | encoder.FlagWebM

// streamContentType maps a format family to the MIME type sent in the
// handshake.
func streamContentType(f codec.Format) string {
	switch f.Family {
	case codec.FamilyOgg:
		return "application/ogg"
	case codec.FamilyWebM:
		return "video/webm"
	default:
		return "audio/mpeg"
	}
}

// streamTitle extracts the single-line stream title from a metadata packet
// payload: the custom line when set, otherwise "artist - title".
func streamTitle(payload []byte) string {
	parts := strings.SplitN(strings.TrimRight(string(payload), "\x00"), "\n", 4)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	if parts[0] != "" {
		return parts[0]
	}
	if parts[1] != "" {
		return parts[1] + " - " + parts[2]
	}
	return parts[2]
}
