// Package control implements the line-oriented command channel. The peer
// sends key=value lines terminated by an "end" line; keys accumulate into
// the variable sets and a block carrying a command key dispatches it
// against the engine pool. Every command is answered with
// "idjcsc: succeeded" or "idjcsc: failed", with structured report lines
// emitted before the verdict where a command asks for one.
package control

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aircast/aircast/internal/codec"
	"github.com/aircast/aircast/internal/encoder"
	"github.com/aircast/aircast/internal/engine"
	"github.com/aircast/aircast/internal/errors"
	"github.com/aircast/aircast/internal/logging"
	"github.com/aircast/aircast/internal/streamer"
)

const (
	pollInterval = 10 * time.Millisecond
	stopTimeout  = 10 * time.Second

	// maxLineBytes bounds a single control line; metadata can carry
	// arbitrary user text.
	maxLineBytes = 1 << 20
)

// Dispatcher reads command blocks and drives the engine pool. It is not
// safe for concurrent use; one goroutine owns the channel.
type Dispatcher struct {
	log *slog.Logger
	eng *engine.Engine
	out *bufio.Writer

	ev encoderVars
	sv streamerVars
	rv recorderVars
	uv universalVars

	keys     map[string]*string
	commands map[string]func() error
}

// New builds a dispatcher over the pool.
func New(eng *engine.Engine) *Dispatcher {
	d := &Dispatcher{
		log: logging.ForService("control"),
		eng: eng,
	}
	d.keys = d.dict()
	d.commands = map[string]func() error{
		"sample_rate_request":        d.sampleRateRequest,
		"encoder_codec_availability": d.codecAvailability,
		"get_report":                 d.getReport,
		"encoder_start":              d.encoderStart,
		"encoder_stop":               d.encoderStop,
		"encoder_update":             d.encoderUpdate,
		"new_song_metadata":          d.newSongMetadata,
		"new_custom_metadata":        d.newCustomMetadata,
		"recorder_start":             d.recorderStart,
		"recorder_stop":              d.recorderStop,
		"recorder_pause":             d.recorderPause,
		"recorder_unpause":           d.recorderUnpause,
		"server_connect":             d.serverConnect,
		"server_disconnect":          d.serverDisconnect,
		"initiate_fade":              d.initiateFade,
	}
	return d
}

// Run consumes blocks from r until EOF, answering on w. It returns the
// read error, or nil on a clean EOF.
func (d *Dispatcher) Run(r io.Reader, w io.Writer) error {
	d.out = bufio.NewWriter(w)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), maxLineBytes)
	for sc.Scan() {
		line := sc.Text()
		if line == "end" {
			d.finishBlock()
			continue
		}
		d.applyLine(line)
	}
	return sc.Err()
}

func (d *Dispatcher) applyLine(line string) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		d.log.Warn("malformed control line", "line", line)
		return
	}
	p, ok := d.keys[key]
	if !ok {
		d.log.Warn("key missing from dictionary", "key", key)
		return
	}
	*p = value
}

func (d *Dispatcher) finishBlock() {
	if d.uv.Command == "" {
		return
	}
	cmd := d.uv.Command
	d.uv.Command = ""

	fn, ok := d.commands[cmd]
	if !ok {
		d.log.Warn("unhandled command", "command", cmd)
		d.respond("failed")
		return
	}
	if err := fn(); err != nil {
		d.log.Error("command failed", "command", cmd, "error", err)
		d.respond("failed")
		return
	}
	d.respond("succeeded")
}

func (d *Dispatcher) respond(verdict string) {
	fmt.Fprintf(d.out, "idjcsc: %s\n", verdict)
	d.out.Flush()
}

// tab decodes the slot index from the current block. A missing or
// malformed tab_id selects slot zero.
func (d *Dispatcher) tab() int {
	n, _ := strconv.Atoi(d.uv.TabID)
	return n
}

func (d *Dispatcher) sampleRateRequest() error {
	fmt.Fprintf(d.out, "idjcsc: sample_rate=%d\n", d.eng.SampleRate())
	return d.out.Flush()
}

func (d *Dispatcher) codecAvailability() error {
	fmt.Fprintf(d.out, "idjcsc: codecs=%s\n", strings.Join(codec.Registered(), ","))
	return d.out.Flush()
}

func (d *Dispatcher) getReport() error {
	switch d.uv.DevType {
	case "streamer":
		s, err := d.eng.Streamer(d.tab())
		if err != nil {
			return err
		}
		newConn := 0
		if s.NewConnection() {
			newConn = 1
		}
		fmt.Fprintf(d.out, "idjcsc: streamer%dreport=%d:%d:%d\n",
			s.ID(), int(s.Mode()), s.QueueFillPercent(), newConn)
		return d.out.Flush()
	case "recorder":
		r, err := d.eng.Recorder(d.tab())
		if err != nil {
			return err
		}
		fmt.Fprintf(d.out, "idjcsc: recorder%dreport=%d:%d\n",
			r.ID(), int(r.Mode()), r.LengthSeconds())
		return d.out.Flush()
	default:
		return errors.Newf("no report for device type %q", d.uv.DevType).
			Component(errors.ComponentControl).
			Category(errors.CategoryControl).
			Build()
	}
}

// encoderConfig assembles a session config from the sticky encoder vars.
func (d *Dispatcher) encoderConfig() (encoder.Config, error) {
	format, err := codec.ParseFormat(d.ev.Family, d.ev.Codec)
	if err != nil {
		return encoder.Config{}, errors.New(err).
			Component(errors.ComponentControl).
			Category(errors.CategoryValidation).
			Build()
	}
	sampleRate, err := strconv.Atoi(d.ev.SampleRate)
	if err != nil {
		return encoder.Config{}, errors.Newf("bad samplerate %q", d.ev.SampleRate).
			Component(errors.ComponentControl).
			Category(errors.CategoryValidation).
			Build()
	}
	bitRate, _ := strconv.Atoi(d.ev.BitRate)
	quality, _ := strconv.ParseFloat(d.ev.Quality, 64)
	channels := 2
	if d.ev.Mode == "mono" {
		channels = 1
	}
	return encoder.Config{
		Format:     format,
		BitRate:    bitRate,
		SampleRate: sampleRate,
		Channels:   channels,
		Quality:    quality,
		Variable:   flagSet(d.ev.Variability),
	}, nil
}

func (d *Dispatcher) encoderStart() error {
	enc, err := d.eng.Encoder(d.tab())
	if err != nil {
		return err
	}
	cfg, err := d.encoderConfig()
	if err != nil {
		return err
	}
	return enc.Start(cfg)
}

func (d *Dispatcher) encoderStop() error {
	enc, err := d.eng.Encoder(d.tab())
	if err != nil {
		return err
	}
	return enc.Stop()
}

// encoderUpdate restarts the slot with the current vars, preserving any
// the peer did not resend.
func (d *Dispatcher) encoderUpdate() error {
	enc, err := d.eng.Encoder(d.tab())
	if err != nil {
		return err
	}
	if enc.Running() {
		if err := enc.Stop(); err != nil {
			return err
		}
		if err := waitStopped(enc); err != nil {
			return err
		}
	}
	cfg, err := d.encoderConfig()
	if err != nil {
		return err
	}
	return enc.Start(cfg)
}

// waitStopped blocks until the slot's session goroutine has wound down,
// so a restart does not race the teardown.
func waitStopped(enc *encoder.Encoder) error {
	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if enc.State() == encoder.StateStopped && !enc.Running() {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return errors.Newf("encoder %d did not stop in time", enc.ID()).
		Component(errors.ComponentControl).
		Category(errors.CategoryState).
		Build()
}

// newSongMetadata stores track metadata. Tab -1 fans out to every encoder
// and forwards the fields to the recorders for their cue sheets.
func (d *Dispatcher) newSongMetadata() error {
	if d.tab() == -1 {
		for i := 0; i < d.eng.EncoderCount(); i++ {
			enc, err := d.eng.Encoder(i)
			if err != nil {
				return err
			}
			enc.SetSongMetadata(d.ev.Artist, d.ev.Title, d.ev.Album)
		}
		for i := 0; i < d.eng.RecorderCount(); i++ {
			rec, err := d.eng.Recorder(i)
			if err != nil {
				return err
			}
			rec.NewMetadata(d.ev.Artist, d.ev.Title, d.ev.Album)
		}
		return nil
	}
	enc, err := d.eng.Encoder(d.tab())
	if err != nil {
		return err
	}
	enc.SetSongMetadata(d.ev.Artist, d.ev.Title, d.ev.Album)
	return nil
}

func (d *Dispatcher) newCustomMetadata() error {
	enc, err := d.eng.Encoder(d.tab())
	if err != nil {
		return err
	}
	enc.SetCustomMetadata(d.ev.CustomMeta)
	return nil
}

// recorderStart begins recording. A record_source of -1 selects the
// lossless direct path; any other value attaches to that encoder slot.
func (d *Dispatcher) recorderStart() error {
	rec, err := d.eng.Recorder(d.tab())
	if err != nil {
		return err
	}
	if d.rv.RecordSource == "-1" {
		return rec.StartLossless(d.eng.SampleRate(), d.rv.RecordFolder, d.rv.RecordFilename)
	}
	src, err := strconv.Atoi(d.rv.RecordSource)
	if err != nil {
		return errors.Newf("bad record_source %q", d.rv.RecordSource).
			Component(errors.ComponentControl).
			Category(errors.CategoryValidation).
			Build()
	}
	enc, err := d.eng.Encoder(src)
	if err != nil {
		return err
	}
	return rec.StartAttached(enc, d.rv.RecordFolder, d.rv.RecordFilename)
}

func (d *Dispatcher) recorderStop() error {
	rec, err := d.eng.Recorder(d.tab())
	if err != nil {
		return err
	}
	return rec.Stop()
}

func (d *Dispatcher) recorderPause() error {
	rec, err := d.eng.Recorder(d.tab())
	if err != nil {
		return err
	}
	return rec.Pause()
}

func (d *Dispatcher) recorderUnpause() error {
	rec, err := d.eng.Recorder(d.tab())
	if err != nil {
		return err
	}
	return rec.Unpause()
}

func (d *Dispatcher) serverConnect() error {
	str, err := d.eng.Streamer(d.tab())
	if err != nil {
		return err
	}
	src, err := strconv.Atoi(d.sv.StreamSource)
	if err != nil {
		return errors.Newf("bad stream_source %q", d.sv.StreamSource).
			Component(errors.ComponentControl).
			Category(errors.CategoryValidation).
			Build()
	}
	enc, err := d.eng.Encoder(src)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(d.sv.Port)
	if err != nil {
		return errors.Newf("bad port %q", d.sv.Port).
			Component(errors.ComponentControl).
			Category(errors.CategoryValidation).
			Build()
	}
	return str.Connect(enc, streamer.ConnectParams{
		Host:        d.sv.Host,
		Port:        port,
		Mount:       d.sv.Mount,
		User:        d.sv.Login,
		Password:    d.sv.Password,
		UseTLS:      d.sv.TLS != "" && d.sv.TLS != "no",
		Name:        d.sv.DJName,
		Genre:       d.sv.Genre,
		URL:         d.sv.ListenURL,
		Description: d.sv.Description,
		Public:      flagSet(d.sv.MakePublic),
	})
}

func (d *Dispatcher) serverDisconnect() error {
	str, err := d.eng.Streamer(d.tab())
	if err != nil {
		return err
	}
	return str.Disconnect()
}

func (d *Dispatcher) initiateFade() error {
	enc, err := d.eng.Encoder(d.tab())
	if err != nil {
		return err
	}
	return enc.InitiateFade()
}

// flagSet interprets the boolean spellings used on the control channel.
func flagSet(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
