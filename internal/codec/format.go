// Package codec defines the boundary between the encoder pipeline and the
// codec libraries that do the actual compression. Engines are opaque: the
// pipeline hands them PCM and receives container-ready bytes back. Concrete
// engines register themselves with the package registry at startup, keyed by
// container family and codec, so builds without a given library simply leave
// that slot unregistered.
package codec

import (
	"fmt"
	"strings"
)

// Source identifies where an encoder's PCM originates.
type Source uint16

const (
	SourceUnhandled Source = iota
	SourceFeed
)

// Family is the container family wrapping the compressed stream.
type Family uint16

const (
	FamilyUnhandled Family = iota
	FamilyOgg
	FamilyMPEG
	FamilyWebM
)

// Kind is the compression codec inside the container.
type Kind uint16

const (
	KindUnhandled Kind = iota
	KindMP3
	KindMP2
	KindVorbis
	KindFLAC
	KindSpeex
	KindOpus
	KindAAC
	KindAACPlusV2
	KindPCM
)

// Format is the full data-format triple carried in every packet header.
type Format struct {
	Source Source
	Family Family
	Kind   Kind
}

func (f Family) String() string {
	switch f {
	case FamilyOgg:
		return "ogg"
	case FamilyMPEG:
		return "mpeg"
	case FamilyWebM:
		return "webm"
	default:
		return "unhandled"
	}
}

func (k Kind) String() string {
	switch k {
	case KindMP3:
		return "mp3"
	case KindMP2:
		return "mp2"
	case KindVorbis:
		return "vorbis"
	case KindFLAC:
		return "flac"
	case KindSpeex:
		return "speex"
	case KindOpus:
		return "opus"
	case KindAAC:
		return "aac"
	case KindAACPlusV2:
		return "aacpv2"
	case KindPCM:
		return "pcm"
	default:
		return "unhandled"
	}
}

func (f Format) String() string {
	return f.Family.String() + "/" + f.Kind.String()
}

// familyKinds lists the codecs each container family may carry.
var familyKinds = map[Family][]Kind{
	FamilyOgg:  {KindVorbis, KindFLAC, KindSpeex, KindOpus},
	FamilyMPEG: {KindMP3, KindMP2, KindAAC, KindAACPlusV2},
	FamilyWebM: {KindVorbis, KindOpus},
}

// ParseFormat derives the format triple from the textual family and codec
// names used on the control channel. Unknown names or combinations the
// container cannot carry are refused.
func ParseFormat(family, kind string) (Format, error) {
	var fam Family
	switch strings.ToLower(family) {
	case "ogg":
		fam = FamilyOgg
	case "mpeg", "mp3":
		fam = FamilyMPEG
	case "webm":
		fam = FamilyWebM
	default:
		return Format{}, fmt.Errorf("unknown container family %q", family)
	}

	var k Kind
	switch strings.ToLower(kind) {
	case "mp3":
		k = KindMP3
	case "mp2":
		k = KindMP2
	case "vorbis":
		k = KindVorbis
	case "flac":
		k = KindFLAC
	case "speex":
		k = KindSpeex
	case "opus":
		k = KindOpus
	case "aac":
		k = KindAAC
	case "aacpv2", "aacplusv2", "aacp2":
		k = KindAACPlusV2
	case "pcm":
		k = KindPCM
	default:
		return Format{}, fmt.Errorf("unknown codec %q", kind)
	}

	if k != KindPCM {
		ok := false
		for _, allowed := range familyKinds[fam] {
			if allowed == k {
				ok = true
				break
			}
		}
		if !ok {
			return Format{}, fmt.Errorf("codec %s not carried by %s container", k, fam)
		}
	}

	return Format{Source: SourceFeed, Family: fam, Kind: k}, nil
}
