package recorder

import (
	"fmt"
	"strings"
	"time"

	gaudio "github.com/go-audio/audio"

	"github.com/aircast/aircast/internal/encoder"
	"github.com/aircast/aircast/internal/id3"
)

// flagAudio marks packets whose payload belongs in the recording file.
const flagAudio = encoder.FlagOgg | encoder.FlagMP3 | encoder.FlagMP2 |
	encoder.FlagAAC | encoder.FlagAACP2 | encoder.FlagWebM

// flagMPEGKind marks the framed MPEG codecs whose bitrate changes imply a
// variable bitrate file.
const flagMPEGKind = encoder.FlagMP3 | encoder.FlagMP2 |
	encoder.FlagAAC | encoder.FlagAACP2

// Run is the slot goroutine body. It parks while stopped and steps the
// state machine on a 10ms cadence otherwise.
func (r *Recorder) Run() {
	defer close(r.done)
	for {
		time.Sleep(pollInterval)
		switch r.Mode() {
		case ModeStopped:
			r.modeMu.Lock()
			for r.Mode() == ModeStopped && !r.terminate.Load() {
				r.modeCv.Wait()
			}
			r.modeMu.Unlock()
			if r.terminate.Load() && r.Mode() == ModeStopped {
				return
			}
		case ModeRecording:
			s := r.sess
			if s.op == nil {
				r.recordLossless(s)
			} else {
				r.recordAttached(s)
			}
		case ModePaused:
			r.stepPaused(r.sess)
		case ModeStopping:
			r.finishSession()
		}
	}
}

// recordLossless drains the capture rings to the wav file in fixed chunks
// and appends a cue track whenever the metadata changed.
func (r *Recorder) recordLossless(s *session) {
	for {
		n := s.inR.Available()
		if avail := s.inL.Available(); avail < n {
			n = avail
		}
		if n == 0 {
			break
		}
		if n > chunkFrames {
			n = chunkFrames
		}
		s.inL.ReadFloats(s.left[:n])
		s.inR.ReadFloats(s.right[:n])
		for i := 0; i < n; i++ {
			s.combined[i*2] = clampS24(s.left[i])
			s.combined[i*2+1] = clampS24(s.right[i])
		}
		buf := &gaudio.IntBuffer{
			Data: s.combined[:n*2],
			Format: &gaudio.Format{
				SampleRate:  s.sampleRate,
				NumChannels: 2,
			},
		}
		if err := s.wavEnc.Write(buf); err != nil {
			r.log.Error("lossless write failed", "path", s.pathname, "error", err)
			r.setMode(ModeStopping)
			return
		}
		s.sfSamples += n
		if r.stopRequest.Load() || r.pauseRequest.Load() {
			break
		}
	}
	s.lengthS = s.sfSamples / s.sampleRate
	s.lengthMS = s.sfSamples * 1000 / s.sampleRate
	r.length.Store(int32(s.lengthS))
	r.metrics.SetRecordingSeconds(r.id, float64(s.lengthS))

	if r.stopRequest.Swap(false) {
		r.setMode(ModeStopping)
	}
	if r.pauseRequest.Swap(false) {
		r.setMode(ModePaused)
	}

	r.metaMu.Lock()
	if r.newArtistTitle {
		r.newArtistTitle = false
		artist, title, album := r.artist, r.title, r.album
		r.metaMu.Unlock()
		s.trackWrites++
		fmt.Fprintf(s.cueFile, "  TRACK %02d AUDIO\r\n", s.trackWrites)
		fmt.Fprintf(s.cueFile, "    TITLE \"%s\"\r\n", title)
		fmt.Fprintf(s.cueFile, "    PERFORMER \"%s\"\r\n", artist)
		fmt.Fprintf(s.cueFile, "    REM ALBUM \"%s\"\r\n", album)
		mm := s.lengthS / 60
		ss := s.lengthS % 60
		ff := s.lengthMS % 1000 * 75 / 1000
		fmt.Fprintf(s.cueFile, "    INDEX 01 %02d:%02d:%02d\r\n", mm, ss, ff)
		r.metrics.RecordMetadataBoundary(r.id)
	} else {
		r.metaMu.Unlock()
	}
}

// recordAttached handles one packet from the encoder output chain. Packets
// from before the commencement serial are discarded, except metadata which
// is logged regardless so the chapter list is current when audio starts.
func (r *Recorder) recordAttached(s *session) {
	p, err := s.op.GetPacket()
	if err != nil {
		r.log.Warn("output chain desynchronized", "error", err)
	}
	if p != nil {
		h := &p.Header
		if int64(h.Serial) >= s.initialSerial {
			if h.Flags&encoder.FlagInitial != 0 && s.id3Mode {
				s.appendSegment(h)
			}
			if h.Flags&flagAudio != 0 {
				if _, err := s.file.Write(p.Data); err != nil {
					r.log.Error("failed writing recording", "path", s.pathname, "error", err)
					r.setMode(ModeStopping)
				} else {
					t := s.accumulatedTime + h.Timestamp
					s.lengthS = int(t)
					s.lengthMS = int(t * 1000.0)
					s.bytesWritten += len(p.Data)
					r.length.Store(int32(s.lengthS))
					r.metrics.AddBytesWritten(r.id, len(p.Data))
					r.metrics.SetRecordingSeconds(r.id, float64(s.lengthS))
				}
			}
			if h.Flags&encoder.FlagFinal != 0 {
				s.accumulatedTime += h.Timestamp
				if r.pausePending.Load() && h.Serial >= s.finalSerial {
					r.pausePending.Store(false)
					r.setMode(ModePaused)
					r.log.Info("entering pause mode")
				}
			}
		}
		if h.Flags&encoder.FlagMetadata != 0 {
			if s.appendMetadata(p.Data) {
				r.metrics.RecordMetadataBoundary(r.id)
			}
		}
	}
	if r.stopRequest.Swap(false) {
		if !s.enc.Running() {
			// the fence below needs a live encoder to deliver it
			r.setMode(ModeStopping)
			return
		}
		r.stopPending.Store(true)
		r.pauseRequest.Store(true)
	}
	if r.pauseRequest.Swap(false) {
		r.pausePending.Store(true)
		s.finalSerial = s.op.SetFlush()
	}
}

// stepPaused discards capture backlog and waits for an unpause or stop.
func (r *Recorder) stepPaused(s *session) {
	if r.stopRequest.Swap(false) || r.stopPending.Load() {
		r.setMode(ModeStopping)
		return
	}
	if s.op == nil {
		s.inL.Reset()
		s.inR.Reset()
	}
	if r.unpauseRequest.Swap(false) {
		if s.initialSerial != -1 {
			s.initialSerial = int64(s.op.SetFlush()) + 1
		}
		r.setMode(ModeRecording)
	}
}

// finishSession closes out the files, applies tags and cue sheets where the
// format takes them, and resets the slot to stopped.
func (r *Recorder) finishSession() {
	s := r.sess
	if s.op == nil {
		if err := s.wavEnc.Close(); err != nil {
			r.log.Error("failed finalizing wav file", "path", s.pathname, "error", err)
		}
		s.file.Close()
		s.cueFile.Close()
		r.gate.Store(int32(encoder.DataflowFlush))
		deadline := time.Now().Add(time.Second)
		for encoder.Dataflow(r.gate.Load()) != encoder.DataflowOff && time.Now().Before(deadline) {
			time.Sleep(pollInterval)
		}
		r.gate.Store(int32(encoder.DataflowOff))
	} else {
		s.file.Close()
		if s.id3Mode {
			s.appendMetadata(nil)
			s.appendSegment(nil)
			r.applyTags(s)
			r.writeAttachedCue(s)
		}
		s.enc.UnregisterClient(s.op)
	}
	r.log.Info("recording finished", "path", s.pathname, "seconds", s.lengthS)
	r.metrics.RecordSession(r.id, "finished")
	r.metrics.SetRecordingSeconds(r.id, 0)

	r.sess = nil
	r.length.Store(0)
	r.stopRequest.Store(false)
	r.stopPending.Store(false)
	r.pauseRequest.Store(false)
	r.pausePending.Store(false)
	r.unpauseRequest.Store(false)
	r.signalMode(ModeStopped)
}

// appendMetadata logs a chapter boundary from a metadata packet payload.
// A nil payload closes out the list at session end. Reports whether a new
// chapter was actually added.
func (s *session) appendMetadata(payload []byte) bool {
	var artist, title, album string
	if payload != nil {
		text := strings.TrimRight(string(payload), "\x00")
		parts := strings.SplitN(text, "\n", 4)
		// the first field is the custom metadata line, unused here
		if len(parts) > 1 {
			artist = parts[1]
		}
		if len(parts) > 2 {
			title = parts[2]
		}
		if len(parts) > 3 {
			album = parts[3]
		}
	}

	if payload != nil && len(s.mi) > 0 {
		last := &s.mi[len(s.mi)-1]
		if last.artist == artist && last.title == title && last.album == album {
			return false
		}
	}

	item := metadataItem{
		artist:     artist,
		title:      title,
		album:      album,
		timeOffset: s.lengthMS,
		byteOffset: s.bytesWritten,
	}
	if len(s.mi) == 0 {
		s.mi = append(s.mi, item)
		return payload != nil
	}
	last := &s.mi[len(s.mi)-1]
	last.timeOffsetEnd = item.timeOffset
	last.byteOffsetEnd = item.byteOffset
	if payload != nil {
		s.mi = append(s.mi, item)
		return true
	}
	return false
}

// appendSegment logs a bitstream segment boundary from a segment-initial
// packet, for the seek table. A nil header closes out the list.
func (s *session) appendSegment(h *encoder.PacketHeader) {
	var seg id3.Segment
	if h != nil {
		seg.BitRate = int(h.BitRate)
		seg.SampleRate = int(h.SampleRate)
	}
	if len(s.mi2) == 0 {
		s.mi2 = append(s.mi2, seg)
	} else {
		seg.StartMS = s.lengthMS
		seg.ByteOffset = s.bytesWritten
		last := &s.mi2[len(s.mi2)-1]
		last.FinishMS = seg.StartMS
		last.SizeBytes = seg.ByteOffset - last.ByteOffset
		if h != nil {
			s.mi2 = append(s.mi2, seg)
		}
	}
	if h != nil && h.Flags&flagMPEGKind != 0 &&
		(int(h.BitRate) != s.oldBitrate || int(h.SampleRate) != s.oldRate) {
		if s.oldBitrate != 0 && s.oldRate != 0 {
			s.isVBR = true
		}
		s.oldBitrate = int(h.BitRate)
		s.oldRate = int(h.SampleRate)
	}
}

func clampS24(v float32) int {
	const max = 1 << 23
	n := int(v * max)
	if n > max-1 {
		return max - 1
	}
	if n < -max {
		return -max
	}
	return n
}
