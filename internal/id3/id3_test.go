package id3

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syncsafe(b []byte) int {
	return int(b[0])<<21 | int(b[1])<<14 | int(b[2])<<7 | int(b[3])
}

func TestEmptyTagRendersNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, NewTag(512).Bytes())
}

func TestTagHeaderAndPadding(t *testing.T) {
	t.Parallel()

	tag := NewTag(64)
	tag.AddFrame(NumericFrame{ID: "TLEN", Value: 60000})
	out := tag.Bytes()

	require.True(t, bytes.HasPrefix(out, []byte("ID3\x04\x00\x00")))
	declared := syncsafe(out[6:10])
	assert.Equal(t, len(out)-10, declared)
	// numeric frame: header + bare digits, no encoding byte
	assert.Equal(t, "TLEN", string(out[10:14]))
	assert.Equal(t, 5, syncsafe(out[14:18]))
	assert.Equal(t, "60000", string(out[20:25]))
	// padding is zero filled
	assert.Equal(t, make([]byte, 64), out[len(out)-64:])
}

func TestTextFrameEncodingAndTerminator(t *testing.T) {
	t.Parallel()

	f := TextFrame{ID: "TIT2", Text: "Song", Encoding: EncodingUTF8, NullTerm: true}
	out := f.compile()
	require.Len(t, out, 10+1+4+1)
	assert.Equal(t, "TIT2", string(out[:4]))
	assert.Equal(t, 6, syncsafe(out[4:8]))
	assert.Equal(t, EncodingUTF8, out[10])
	assert.Equal(t, "Song", string(out[11:15]))
	assert.Equal(t, byte(0), out[15])
}

func TestChapFrameLayout(t *testing.T) {
	t.Parallel()

	chap := ChapFrame{
		StartMS: 1000, EndMS: 2000, StartByte: 4096, EndByte: 8192,
		Embedded: []Frame{
			TextFrame{ID: "TIT2", Text: "A", Encoding: EncodingUTF8, NullTerm: true},
		},
	}
	out := chap.compile()
	assert.Equal(t, "CHAP", string(out[:4]))

	sub := TextFrame{ID: "TIT2", Text: "A", Encoding: EncodingUTF8, NullTerm: true}.compile()
	// empty identifier: one NUL, four big-endian ranges, then the subframe
	assert.Equal(t, 17+len(sub), syncsafe(out[4:8]))
	assert.Equal(t, byte(0), out[10])
	assert.Equal(t, uint32(1000), binary.BigEndian.Uint32(out[11:]))
	assert.Equal(t, uint32(2000), binary.BigEndian.Uint32(out[15:]))
	assert.Equal(t, uint32(4096), binary.BigEndian.Uint32(out[19:]))
	assert.Equal(t, uint32(8192), binary.BigEndian.Uint32(out[23:]))
	assert.Equal(t, sub, out[27:])
}

func TestChapterTagOmitsEmptyArtistAlbum(t *testing.T) {
	t.Parallel()

	out := ChapterTag(30000, []Chapter{
		{Title: "Only Title", EndMS: 30000, EndByte: 1024},
	}, 0)
	assert.Contains(t, string(out), "TIT2")
	assert.NotContains(t, string(out), "TPE1")
	assert.NotContains(t, string(out), "TALB")

	out = ChapterTag(30000, []Chapter{
		{Artist: "Someone", Title: "Something", Album: "Somewhere", EndMS: 30000, EndByte: 1024},
	}, 0)
	assert.Contains(t, string(out), "TPE1")
	assert.Contains(t, string(out), "TALB")
}

// mpeg1HeaderStereo is a 44.1 kHz layer III stereo frame header.
var mpeg1HeaderStereo = [4]byte{0xFF, 0xFB, 0x90, 0x00}

func TestWriteXingFrameCBR(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := WriteXingFrame(&buf, XingParams{
		FirstHeader:  mpeg1HeaderStereo,
		LengthMS:     10000,
		BytesWritten: 160000,
		VBR:          false,
		Segments: []Segment{
			{StartMS: 0, FinishMS: 10000, ByteOffset: 0, SizeBytes: 160000, BitRate: 128, SampleRate: 44100},
		},
	})
	require.NoError(t, err)
	out := buf.Bytes()

	// frame length for 128 kb/s at 44100 Hz, no padding bit
	assert.Len(t, out, 1152/8*128*1000/44100)
	assert.Equal(t, mpeg1HeaderStereo[:], out[:4])
	// stereo MPEG-1 side info is 32 bytes
	assert.Equal(t, []byte("Info\x00\x00\x00\x03"), out[36:44])
	frames := int(binary.BigEndian.Uint32(out[44:48]))
	assert.Equal(t, 383, frames) // round(44100*10/1152)
	assert.Equal(t, uint32(160000), binary.BigEndian.Uint32(out[48:52]))
}

func TestWriteXingFrameVBRSeekTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := WriteXingFrame(&buf, XingParams{
		FirstHeader:  mpeg1HeaderStereo,
		LengthMS:     20000,
		BytesWritten: 480000,
		VBR:          true,
		Segments: []Segment{
			{StartMS: 0, FinishMS: 10000, ByteOffset: 0, SizeBytes: 160000, BitRate: 128, SampleRate: 44100},
			{StartMS: 10000, FinishMS: 20000, ByteOffset: 160000, SizeBytes: 320000, BitRate: 192, SampleRate: 44100},
		},
	})
	require.NoError(t, err)
	out := buf.Bytes()

	assert.Equal(t, []byte("Xing\x00\x00\x00\x07"), out[36:44])
	table := out[52:152]
	require.Len(t, table, 100)
	for i := 1; i < 100; i++ {
		assert.GreaterOrEqual(t, table[i], table[i-1], "seek table must be monotonic")
	}
	assert.Zero(t, table[0])
}

func TestWriteXingFrameNoSegments(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := WriteXingFrame(&buf, XingParams{FirstHeader: mpeg1HeaderStereo, LengthMS: 1000})
	assert.Error(t, err)
}
