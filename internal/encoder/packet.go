// Package encoder implements the encoder pipeline: per-slot state machines
// turning feed PCM into packetized compressed output distributed to attached
// streamer and recorder clients.
package encoder

import (
	"encoding/binary"
	"math"

	"github.com/aircast/aircast/internal/codec"
	"github.com/aircast/aircast/internal/errors"
)

// PacketFlags is the flag bitset carried in every packet header.
type PacketFlags uint16

const (
	FlagInitial  PacketFlags = 1 << 0 // first packet of a logical segment
	FlagFinal    PacketFlags = 1 << 1 // last packet of a segment, zero payload
	FlagOgg      PacketFlags = 1 << 2
	FlagMP3      PacketFlags = 1 << 3
	FlagMetadata PacketFlags = 1 << 4
	FlagHeader   PacketFlags = 1 << 5 // container header bytes
	FlagMP2      PacketFlags = 1 << 6
	FlagAAC      PacketFlags = 1 << 7
	FlagAACP2    PacketFlags = 1 << 8
	FlagWebM     PacketFlags = 1 << 9
)

// packetMagic is the sync marker leading every packet header on a client ring.
var packetMagic = [4]byte{'A', 'C', 'P', 'K'}

// HeaderSize is the fixed byte length of a marshalled packet header.
const HeaderSize = 36

// PacketHeader is the fixed-layout header preceding every payload.
type PacketHeader struct {
	Format     codec.Format
	BitRate    uint16 // kb/s
	SampleRate uint32
	Channels   uint16
	Flags      PacketFlags
	Serial     uint32
	Timestamp  float64 // seconds into the current serial
	DataSize   uint32
}

// Packet is the atomic unit flowing through an output chain.
type Packet struct {
	Header PacketHeader
	Data   []byte
}

// ErrBadMagic reports a corrupted packet boundary on a client ring.
var ErrBadMagic = errors.NewStd("packet sync marker mismatch")

// appendHeader marshals h into buf in little-endian layout and returns the
// extended slice.
func appendHeader(buf []byte, h *PacketHeader) []byte {
	var b [HeaderSize]byte
	copy(b[0:4], packetMagic[:])
	binary.LittleEndian.PutUint16(b[4:], uint16(h.Format.Source))
	binary.LittleEndian.PutUint16(b[6:], uint16(h.Format.Family))
	binary.LittleEndian.PutUint16(b[8:], uint16(h.Format.Kind))
	binary.LittleEndian.PutUint16(b[10:], h.BitRate)
	binary.LittleEndian.PutUint32(b[12:], h.SampleRate)
	binary.LittleEndian.PutUint16(b[16:], h.Channels)
	binary.LittleEndian.PutUint16(b[18:], uint16(h.Flags))
	binary.LittleEndian.PutUint32(b[20:], h.Serial)
	binary.LittleEndian.PutUint64(b[24:], math.Float64bits(h.Timestamp))
	binary.LittleEndian.PutUint32(b[32:], h.DataSize)
	return append(buf, b[:]...)
}

// parseHeader unmarshals a header from b, which must hold HeaderSize bytes.
func parseHeader(b []byte, h *PacketHeader) error {
	if b[0] != packetMagic[0] || b[1] != packetMagic[1] ||
		b[2] != packetMagic[2] || b[3] != packetMagic[3] {
		return ErrBadMagic
	}
	h.Format.Source = codec.Source(binary.LittleEndian.Uint16(b[4:]))
	h.Format.Family = codec.Family(binary.LittleEndian.Uint16(b[6:]))
	h.Format.Kind = codec.Kind(binary.LittleEndian.Uint16(b[8:]))
	h.BitRate = binary.LittleEndian.Uint16(b[10:])
	h.SampleRate = binary.LittleEndian.Uint32(b[12:])
	h.Channels = binary.LittleEndian.Uint16(b[16:])
	h.Flags = PacketFlags(binary.LittleEndian.Uint16(b[18:]))
	h.Serial = binary.LittleEndian.Uint32(b[20:])
	h.Timestamp = math.Float64frombits(binary.LittleEndian.Uint64(b[24:]))
	h.DataSize = binary.LittleEndian.Uint32(b[32:])
	return nil
}

// kindFlag maps a codec kind to its container-kind packet flag.
func kindFlag(f codec.Format) PacketFlags {
	switch f.Family {
	case codec.FamilyOgg:
		return FlagOgg
	case codec.FamilyWebM:
		return FlagWebM
	}
	switch f.Kind {
	case codec.KindMP3:
		return FlagMP3
	case codec.KindMP2:
		return FlagMP2
	case codec.KindAAC:
		return FlagAAC
	case codec.KindAACPlusV2:
		return FlagAACP2
	}
	return 0
}
