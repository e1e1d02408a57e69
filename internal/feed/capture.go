package feed

import (
	"encoding/binary"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/aircast/aircast/internal/errors"
	"github.com/aircast/aircast/internal/logging"
)

// CaptureConfig selects the soundcard and format for the capture source.
type CaptureConfig struct {
	Device       string
	SampleRate   int
	PeriodFrames int
}

// CaptureSource captures stereo float32 PCM from a soundcard and delivers
// it to the feed.
type CaptureSource struct {
	cfg  CaptureConfig
	feed *Feed

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	running atomic.Bool

	samples []float32
}

// NewCaptureSource creates a soundcard capture source. Call Start to open
// the device.
func NewCaptureSource(cfg CaptureConfig, f *Feed) *CaptureSource {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	if cfg.PeriodFrames == 0 {
		cfg.PeriodFrames = 1024
	}
	return &CaptureSource{cfg: cfg, feed: f}
}

// Start opens the capture device and begins delivering buffers.
func (s *CaptureSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return errors.Newf("capture source already running").
			Component(errors.ComponentFeed).
			Category(errors.CategoryState).
			Build()
	}

	backend := platformBackend()
	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{},
		func(message string) {
			logging.ForService("feed").Debug("miniaudio", "message", message)
		})
	if err != nil {
		return errors.New(err).
			Component(errors.ComponentFeed).
			Category(errors.CategoryAudioFeed).
			Context("operation", "init_context").
			Build()
	}
	s.ctx = ctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 2
	deviceConfig.SampleRate = uint32(s.cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(s.cfg.PeriodFrames)
	deviceConfig.Alsa.NoMMap = 1

	if s.cfg.Device != "" && s.cfg.Device != "default" {
		info, err := s.findDevice()
		if err != nil {
			_ = ctx.Uninit()
			s.ctx = nil
			return err
		}
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		_ = ctx.Uninit()
		s.ctx = nil
		return errors.New(err).
			Component(errors.ComponentFeed).
			Category(errors.CategoryAudioFeed).
			Context("device", s.cfg.Device).
			Context("operation", "init_device").
			Build()
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		s.device = nil
		s.ctx = nil
		return errors.New(err).
			Component(errors.ComponentFeed).
			Category(errors.CategoryAudioFeed).
			Context("operation", "start_device").
			Build()
	}

	s.running.Store(true)
	return nil
}

// Stop halts capture and releases the device.
func (s *CaptureSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return errors.Newf("capture source not running").
			Component(errors.ComponentFeed).
			Category(errors.CategoryState).
			Build()
	}
	s.running.Store(false)

	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx = nil
	}
	return nil
}

// IsActive reports whether the device is capturing.
func (s *CaptureSource) IsActive() bool {
	return s.running.Load()
}

// onData runs on the audio thread; it decodes the raw float buffer and
// hands it to the feed without blocking.
func (s *CaptureSource) onData(_, raw []byte, frameCount uint32) {
	n := int(frameCount) * 2
	if cap(s.samples) < n {
		s.samples = make([]float32, n)
	}
	buf := s.samples[:n]
	for i := 0; i < n && i*4+4 <= len(raw); i++ {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	s.feed.Deliver(buf)
}

func (s *CaptureSource) onStop() {
	if s.running.Load() {
		s.feed.metrics.RecordSourceError()
		s.feed.log.Warn("capture device stopped unexpectedly")
	}
}

func (s *CaptureSource) findDevice() (*malgo.DeviceInfo, error) {
	infos, err := s.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component(errors.ComponentFeed).
			Category(errors.CategoryAudioFeed).
			Context("operation", "enumerate_devices").
			Build()
	}
	for i := range infos {
		if infos[i].Name() == s.cfg.Device {
			return &infos[i], nil
		}
	}
	return nil, errors.Newf("capture device %q not found", s.cfg.Device).
		Component(errors.ComponentFeed).
		Category(errors.CategoryAudioFeed).
		Build()
}

func platformBackend() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}
