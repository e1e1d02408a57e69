package id3

import (
	"bufio"
	"io"

	"github.com/aircast/aircast/internal/errors"
)

// Segment is one constant-parameter stretch of an MP3 recording, logged from
// the packet headers while it was being written.
type Segment struct {
	StartMS    int
	FinishMS   int
	ByteOffset int
	SizeBytes  int
	BitRate    int // kb/s
	SampleRate int
}

// XingParams describes the finished file the summary frame is computed for.
type XingParams struct {
	// FirstHeader holds the first four bytes of the recording's first
	// audio frame; the synthesized frame reuses them verbatim.
	FirstHeader [4]byte

	LengthMS     int
	BytesWritten int

	// VBR selects the Xing variant with the seek table; otherwise an
	// Info frame with only the frame and byte counts is written.
	VBR      bool
	Segments []Segment
}

// sideInfoSizes is the layer III side info length indexed by
// [mpeg1][mono]; the summary data lands directly after it.
var sideInfoSizes = [2][2]int{{17, 9}, {32, 17}}

// WriteXingFrame writes one whole MP3 frame carrying the Xing or Info
// summary tag. The frame reuses the first header of the recording, so the
// file's frame parameters are preserved; the remainder is zero filled up to
// the frame length those parameters imply.
func WriteXingFrame(w io.Writer, p XingParams) error {
	if len(p.Segments) == 0 {
		return errors.Newf("no segments logged, cannot build summary frame").
			Component(errors.ComponentRecorder).
			Category(errors.CategoryValidation).
			Build()
	}

	padding := 0
	if p.FirstHeader[2]&0x2 != 0 {
		padding = 1
	}
	mpeg1 := 0
	if p.FirstHeader[1]&0x18 == 0x18 {
		mpeg1 = 1
	}
	mono := 0
	if p.FirstHeader[3]&0xC0 == 0xC0 {
		mono = 1
	}
	samplesPerFrame := 576
	if mpeg1 == 1 {
		samplesPerFrame = 1152
	}
	first := p.Segments[0]
	frameLength := samplesPerFrame/8*first.BitRate*1000/first.SampleRate + padding

	bw := bufio.NewWriter(w)
	written := 0
	put := func(b []byte) {
		bw.Write(b)
		written += len(b)
	}

	put(p.FirstHeader[:])
	put(make([]byte, sideInfoSizes[mpeg1][mono]))
	if p.VBR {
		put([]byte("Xing\x00\x00\x00\x07"))
	} else {
		put([]byte("Info\x00\x00\x00\x03"))
	}

	// the frame count is nominal for recordings whose sample rate varied,
	// but players only derive the duration from it, which still comes out
	// right
	totalFrames := int(float64(first.SampleRate)*float64(p.LengthMS)/
		(float64(samplesPerFrame)*1000.0) + 0.5)
	put([]byte{
		byte(totalFrames >> 24), byte(totalFrames >> 16),
		byte(totalFrames >> 8), byte(totalFrames),
	})
	put([]byte{
		byte(p.BytesWritten >> 24), byte(p.BytesWritten >> 16),
		byte(p.BytesWritten >> 8), byte(p.BytesWritten),
	})

	if p.VBR {
		table, err := seekTable(p)
		if err != nil {
			return err
		}
		put(table)
		if table[99] == 0xFF {
			put([]byte{0})
		}
	}

	for fill := frameLength - written; fill > 0; fill-- {
		// low bitrates with high sample rates can make the summary
		// overrun the frame; the fill is simply skipped then
		bw.WriteByte(0)
	}
	return bw.Flush()
}

// seekTable builds the 100-entry percentage seek table by linear
// interpolation inside the logged segment bracketing each percentile.
func seekTable(p XingParams) ([]byte, error) {
	table := make([]byte, 100)
	seg := 0
	for idx := 0; idx < 100; idx++ {
		lookMS := float64(idx) / 100 * float64(p.LengthMS)
		for lookMS > float64(p.Segments[seg].FinishMS) {
			seg++
			if seg >= len(p.Segments) {
				return nil, errors.Newf("segment log does not cover %.0f ms", lookMS).
					Component(errors.ComponentRecorder).
					Category(errors.CategoryValidation).
					Build()
			}
		}
		s := p.Segments[seg]
		segProp := (lookMS - float64(s.StartMS)) / float64(s.FinishMS-s.StartMS)
		table[idx] = byte((segProp*float64(s.SizeBytes) + float64(s.ByteOffset)) /
			float64(p.BytesWritten) * 255)
	}
	return table, nil
}
