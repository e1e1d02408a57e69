package encoder

import (
	"time"

	"github.com/aircast/aircast/internal/audio"
	"github.com/aircast/aircast/internal/codec"
)

// session holds the per-run state owned by the slot goroutine.
type session struct {
	cfg          Config
	traits       backendTraits
	engine       codec.Engine
	resL, resR   *audio.Resampler
	ratio        float64
	frameSamples int
	frameL       []float32
	frameR       []float32
	mono         []float32
	timestamp    float64
	firstAudio   bool
}

// Run is the slot goroutine main loop. It drives the state machine until
// Shutdown, surviving any number of session starts and stops.
func (e *Encoder) Run() {
	defer close(e.done)
	for !e.shutdown.Load() {
		switch e.State() {
		case StateStopped:
			if e.runRequest.Load() {
				e.setState(StateStarting)
			} else {
				time.Sleep(pollInterval)
			}
		case StateStarting:
			if err := e.startSession(); err != nil {
				e.setState(StateStopped)
			} else {
				e.setState(StateRunning)
			}
		case StateRunning:
			e.runSession()
		case StateStopping:
			e.teardownSession()
			if e.runRequest.Load() {
				e.setState(StateStarting)
			} else {
				e.setState(StateStopped)
			}
		default:
			e.setState(StateStopped)
		}
	}
	if e.sess != nil {
		e.teardownSession()
	}
	e.setState(StateStopped)
}

func (e *Encoder) startSession() error {
	e.cfgMu.Lock()
	cfg := e.pending
	e.cfgMu.Unlock()

	traits, err := backendTraitsFor(cfg)
	if err != nil {
		return e.failStart(err)
	}

	engine, err := codec.Open(cfg.Format, codec.Params{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		BitRate:    cfg.BitRate,
		Quality:    cfg.Quality,
		Variable:   cfg.Variable,
	})
	if err != nil {
		return e.failStart(err)
	}

	s := &session{
		cfg:          cfg,
		traits:       traits,
		engine:       engine,
		frameSamples: engine.FrameSamples(),
		ratio:        float64(cfg.SampleRate) / float64(e.sourceRate),
	}
	s.frameL = make([]float32, s.frameSamples)
	s.frameR = make([]float32, s.frameSamples)
	if cfg.Channels == 1 {
		s.mono = make([]float32, s.frameSamples)
	}
	if s.ratio != 1 {
		s.resL = audio.NewResampler(s.ratio, ringFetch(e.inL))
		s.resR = audio.NewResampler(s.ratio, ringFetch(e.inR))
	}

	e.inL.Reset()
	e.inR.Reset()
	e.flush.Store(false)
	e.restart.Store(false)
	e.fadeMu.Lock()
	e.fadeActive = false
	e.fadeGain = 1.0
	e.fadeMu.Unlock()

	e.sess = s
	e.cfgMu.Lock()
	e.current = cfg
	e.cfgMu.Unlock()

	if ms, ok := engine.(codec.MetadataSetter); ok {
		e.metaMu.Lock()
		m := e.meta
		e.metaMu.Unlock()
		ms.SetMetadata(m.Artist, m.Title, m.Album, m.Custom)
	}

	if err := e.emitHeader(); err != nil {
		codec.Close(engine)
		e.sess = nil
		return e.failStart(err)
	}

	e.SetDataflow(DataflowOn)
	e.metrics.RecordSession(e.id, "started")
	e.log.Info("session started",
		"format", cfg.Format.String(),
		"bitrate", cfg.BitRate,
		"samplerate", cfg.SampleRate,
		"channels", cfg.Channels,
		"serial", e.serial.Load())
	return nil
}

func (e *Encoder) failStart(err error) error {
	e.cfgMu.Lock()
	e.startErr = err
	e.cfgMu.Unlock()
	e.runRequest.Store(false)
	e.metrics.RecordSession(e.id, "setup_error")
	e.log.Error("session setup failed", "error", err)
	return err
}

func (e *Encoder) runSession() {
	s := e.sess
	for {
		if e.shutdown.Load() || !e.runRequest.Load() {
			e.finishSegment()
			e.setState(StateStopping)
			return
		}
		if e.restart.Swap(false) {
			// runRequest stays set so teardown restarts with the
			// pending config
			e.finishSegment()
			e.setState(StateStopping)
			return
		}
		if e.flush.Swap(false) {
			if err := e.cutSegment(); err != nil {
				e.sessionError(err)
				return
			}
		}
		if m, ok := e.takeMetadata(); ok {
			if s.traits.retagOnMeta {
				if ms, ok2 := s.engine.(codec.MetadataSetter); ok2 {
					ms.SetMetadata(m.Artist, m.Title, m.Album, m.Custom)
				}
				if err := e.cutSegment(); err != nil {
					e.sessionError(err)
					return
				}
			} else {
				// no container-kind flag: attached recorders must not
				// write metadata text into the audio file
				e.emitPacket(FlagMetadata, []byte(m.PacketText()))
			}
		}
		if !e.readFrame() {
			continue
		}
		left, right := s.encodeChannels()
		out, err := s.engine.Encode(left, right)
		if err != nil {
			e.sessionError(err)
			return
		}
		if len(out) > 0 {
			e.emitPayload(out)
		}
		s.timestamp += float64(s.frameSamples) / float64(s.cfg.SampleRate)
	}
}

// sessionError ends the session gracefully after an encode or write failure.
func (e *Encoder) sessionError(err error) {
	e.log.Error("session error, stopping", "error", err)
	e.runRequest.Store(false)
	e.finishSegment()
	e.setState(StateStopping)
}

func (e *Encoder) teardownSession() {
	e.SetDataflow(DataflowOff)
	s := e.sess
	if s == nil {
		return
	}
	if err := codec.Close(s.engine); err != nil {
		e.log.Warn("codec close failed", "error", err)
	}
	e.sess = nil
	e.inL.Reset()
	e.inR.Reset()
	e.metrics.RecordSession(e.id, "stopped")
	e.log.Info("session stopped", "serial", e.serial.Load())
}

// emitHeader writes the container header packet of a fresh segment, or for
// header-less formats arms the first audio packet to carry the segment start
// marker.
func (e *Encoder) emitHeader() error {
	s := e.sess
	hdr, err := s.engine.Header()
	if err != nil {
		return err
	}
	if len(hdr) > 0 {
		e.cacheHeader(hdr)
		e.emitPacket(s.traits.kflag|FlagInitial|FlagHeader, hdr)
		s.firstAudio = false
	} else {
		e.cacheHeader(nil)
		s.firstAudio = true
	}
	return nil
}

// finishSegment flushes the codec, emits the trailer and the zero-payload
// end marker, then advances the serial.
func (e *Encoder) finishSegment() {
	s := e.sess
	trailer, err := s.engine.Flush()
	if err != nil {
		e.log.Warn("codec flush failed", "error", err)
	} else if len(trailer) > 0 {
		e.emitPacket(s.traits.kflag, trailer)
	}
	e.emitPacket(s.traits.kflag|FlagFinal, nil)
	e.serial.Add(1)
	s.timestamp = 0
}

// cutSegment closes the current segment and opens the next one in place.
// Clients observe a serial increment and a fresh segment start.
func (e *Encoder) cutSegment() error {
	e.finishSegment()
	return e.emitHeader()
}

func (e *Encoder) emitPacket(flags PacketFlags, payload []byte) {
	s := e.sess
	h := PacketHeader{
		Format:     s.cfg.Format,
		BitRate:    uint16(s.cfg.BitRate),
		SampleRate: uint32(s.cfg.SampleRate),
		Channels:   uint16(s.cfg.Channels),
		Flags:      flags,
		Serial:     e.serial.Load(),
		Timestamp:  s.timestamp,
		DataSize:   uint32(len(payload)),
	}
	e.writePacketAll(&h, payload)
}

// emitPayload emits one audio payload packet, applying container framing and
// the segment start marker for header-less formats.
func (e *Encoder) emitPayload(data []byte) {
	s := e.sess
	if s.traits.wrap != nil {
		data = s.traits.wrap(data)
	}
	flags := s.traits.kflag
	if s.firstAudio {
		flags |= FlagInitial
		s.firstAudio = false
	}
	e.emitPacket(flags, data)
}

// stopRequested reports whether the frame wait should be abandoned so the
// loop top can service a pending request.
func (e *Encoder) stopRequested() bool {
	return e.shutdown.Load() || !e.runRequest.Load() ||
		e.restart.Load() || e.flush.Load()
}

// readFrame fills the session frame buffers with one codec frame at the
// target rate, waiting on the input rings with bounded polling. It returns
// false when a pending request interrupted the wait.
func (e *Encoder) readFrame() bool {
	s := e.sess
	need := s.frameSamples
	if s.ratio == 1 {
		for e.inL.Available() < need || e.inR.Available() < need {
			if e.stopRequested() {
				return false
			}
			time.Sleep(pollInterval)
		}
		e.inL.ReadFloats(s.frameL[:need])
		e.inR.ReadFloats(s.frameR[:need])
	} else {
		gotL, gotR := 0, 0
		for gotL < need || gotR < need {
			if gotL < need {
				gotL += s.resL.Read(s.frameL[gotL:need])
			}
			if gotR < need {
				gotR += s.resR.Read(s.frameR[gotR:need])
			}
			if gotL < need || gotR < need {
				if e.stopRequested() {
					return false
				}
				time.Sleep(pollInterval)
			}
		}
	}
	e.applyGain(s.frameL[:need], s.frameR[:need])
	return true
}

// encodeChannels returns the buffers handed to the engine, downmixing for
// mono sessions.
func (s *session) encodeChannels() (left, right []float32) {
	if s.cfg.Channels == 1 {
		audio.Downmix(s.frameL, s.frameR, s.mono, s.frameSamples)
		return s.mono, nil
	}
	return s.frameL, s.frameR
}

// applyGain applies the input gain and any active fade sample by sample.
// Fade completion requests the normal stop sequence.
func (e *Encoder) applyGain(l, r []float32) {
	e.fadeMu.Lock()
	if !e.fadeActive && e.fadeGain == 1.0 && e.gain == 1.0 {
		e.fadeMu.Unlock()
		return
	}
	fadeDone := false
	for i := range l {
		if e.fadeActive {
			e.fadeGain *= e.fadeScale
			if e.fadeGain <= fadeFloor {
				e.fadeGain = 0
				e.fadeActive = false
				fadeDone = true
			}
		}
		g := float32(e.gain * e.fadeGain)
		l[i] *= g
		r[i] *= g
	}
	e.fadeMu.Unlock()
	if fadeDone {
		e.log.Info("fade complete, stopping")
		e.runRequest.Store(false)
	}
}

func ringFetch(rc *audio.RingChannel) audio.FetchFunc {
	return func(dst []float32) int {
		return rc.ReadFloats(dst)
	}
}
