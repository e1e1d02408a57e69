package encoder

import (
	"github.com/aircast/aircast/internal/codec"
	"github.com/aircast/aircast/internal/errors"
)

// backendTraits captures the container-level behavior layered around the
// opaque codec engine: the packet kind flag, whether a metadata change costs
// a segment cut, and any per-frame elementary stream framing.
type backendTraits struct {
	kflag PacketFlags

	// retagOnMeta is set for containers that carry metadata in the stream
	// header. A metadata change closes the segment and opens a new one
	// with the serial incremented; header-less formats emit an in-band
	// metadata packet instead.
	retagOnMeta bool

	// wrap applies elementary stream framing to each encoded frame.
	wrap func([]byte) []byte
}

func backendTraitsFor(cfg Config) (backendTraits, error) {
	t := backendTraits{kflag: kindFlag(cfg.Format)}
	switch cfg.Format.Family {
	case codec.FamilyOgg, codec.FamilyWebM:
		t.retagOnMeta = true
	case codec.FamilyMPEG:
		switch cfg.Format.Kind {
		case codec.KindMP3, codec.KindMP2:
			// metadata travels in-band as a metadata packet
		case codec.KindAAC, codec.KindAACPlusV2:
			t.retagOnMeta = true
			idx, ok := adtsRateIndex(cfg.SampleRate)
			if !ok {
				return t, errors.Newf("sample rate %d has no adts index", cfg.SampleRate).
					Component(errors.ComponentEncoder).
					Category(errors.CategoryConfiguration).
					Build()
			}
			t.wrap = adtsWrapper(idx, cfg.Channels)
		default:
			return t, errors.Newf("codec %s not supported in mpeg container", cfg.Format.Kind).
				Component(errors.ComponentEncoder).
				Category(errors.CategoryConfiguration).
				Build()
		}
	default:
		return t, errors.Newf("unsupported container family %s", cfg.Format.Family).
			Component(errors.ComponentEncoder).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return t, nil
}
