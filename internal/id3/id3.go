// Package id3 builds the ID3v2.4 tags written in front of finished
// recordings, with emphasis on chapter frames, and synthesizes the Xing/Info
// summary frame replacing the first MP3 frame of a finished file.
package id3

import (
	"encoding/binary"
	"strconv"
)

// Text encodings for text frames.
const (
	EncodingLatin1 byte = 0
	EncodingUTF8   byte = 3
)

// Frame is one ID3 frame that can render itself to wire bytes.
type Frame interface {
	compile() []byte
}

func frameHeader(out []byte, id string, bodySize int) []byte {
	out = append(out, id[:4]...)
	out = appendSyncsafe(out, uint32(bodySize))
	return append(out, 0, 0) // status and format flags
}

// appendSyncsafe appends v as a 28-bit syncsafe integer.
func appendSyncsafe(out []byte, v uint32) []byte {
	return append(out,
		byte(v>>21&0x7F), byte(v>>14&0x7F), byte(v>>7&0x7F), byte(v&0x7F))
}

// TextFrame is a T??? frame: an encoding byte followed by text.
type TextFrame struct {
	ID       string
	Text     string
	Encoding byte
	NullTerm bool
}

func (f TextFrame) compile() []byte {
	size := 1 + len(f.Text)
	if f.NullTerm {
		size++
	}
	out := frameHeader(make([]byte, 0, size+10), f.ID, size)
	out = append(out, f.Encoding)
	out = append(out, f.Text...)
	if f.NullTerm {
		out = append(out, 0)
	}
	return out
}

// NumericFrame is a numeric string frame such as TLEN. It carries the bare
// decimal digits with no encoding byte.
type NumericFrame struct {
	ID    string
	Value int
}

func (f NumericFrame) compile() []byte {
	s := strconv.Itoa(f.Value)
	out := frameHeader(make([]byte, 0, len(s)+10), f.ID, len(s))
	return append(out, s...)
}

// ChapFrame is a CHAP chapter frame: an element identifier, the chapter's
// time and byte ranges, and any embedded subframes describing it.
type ChapFrame struct {
	Identifier string
	StartMS    uint32
	EndMS      uint32
	StartByte  uint32
	EndByte    uint32
	Embedded   []Frame
}

func (f ChapFrame) compile() []byte {
	var sub []byte
	for _, e := range f.Embedded {
		sub = append(sub, e.compile()...)
	}
	size := len(f.Identifier) + 17 + len(sub)
	out := frameHeader(make([]byte, 0, size+10), "CHAP", size)
	out = append(out, f.Identifier...)
	out = append(out, 0)
	var ranges [16]byte
	binary.BigEndian.PutUint32(ranges[0:], f.StartMS)
	binary.BigEndian.PutUint32(ranges[4:], f.EndMS)
	binary.BigEndian.PutUint32(ranges[8:], f.StartByte)
	binary.BigEndian.PutUint32(ranges[12:], f.EndByte)
	out = append(out, ranges[:]...)
	return append(out, sub...)
}

// Tag is an ID3v2.4 tag under construction. Frames render in the order they
// were added, followed by Padding zero bytes.
type Tag struct {
	Padding int
	frames  []Frame
}

// NewTag creates an empty tag with the given padding.
func NewTag(padding int) *Tag {
	return &Tag{Padding: padding}
}

// AddFrame appends a frame to the tag.
func (t *Tag) AddFrame(f Frame) {
	t.frames = append(t.frames, f)
}

// Bytes renders the complete tag. An empty tag renders to nil.
func (t *Tag) Bytes() []byte {
	if len(t.frames) == 0 {
		return nil
	}
	var body []byte
	for _, f := range t.frames {
		body = append(body, f.compile()...)
	}
	out := make([]byte, 0, len(body)+10+t.Padding)
	out = append(out, "ID3\x04\x00\x00"...)
	out = appendSyncsafe(out, uint32(len(body)+t.Padding))
	out = append(out, body...)
	return append(out, make([]byte, t.Padding)...)
}

// Chapter is one artist/title/album segment of a finished recording.
type Chapter struct {
	Artist    string
	Title     string
	Album     string
	StartMS   uint32
	EndMS     uint32
	StartByte uint32
	EndByte   uint32
}

// ChapterTag builds the post-recording tag: total duration plus one CHAP
// frame per metadata segment.
func ChapterTag(lengthMS int, chapters []Chapter, padding int) []byte {
	tag := NewTag(padding)
	tag.AddFrame(NumericFrame{ID: "TLEN", Value: lengthMS})
	for _, c := range chapters {
		chap := ChapFrame{
			StartMS:   c.StartMS,
			EndMS:     c.EndMS,
			StartByte: c.StartByte,
			EndByte:   c.EndByte,
		}
		chap.Embedded = append(chap.Embedded,
			TextFrame{ID: "TIT2", Text: c.Title, Encoding: EncodingUTF8, NullTerm: true})
		if c.Album != "" {
			chap.Embedded = append(chap.Embedded,
				TextFrame{ID: "TALB", Text: c.Album, Encoding: EncodingUTF8, NullTerm: true})
		}
		if c.Artist != "" {
			chap.Embedded = append(chap.Embedded,
				TextFrame{ID: "TPE1", Text: c.Artist, Encoding: EncodingUTF8, NullTerm: true})
		}
		tag.AddFrame(chap)
	}
	return tag.Bytes()
}
