package encoder

// adtsSampleRates lists the standard rates in ADTS header index order.
var adtsSampleRates = [13]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000,
	22050, 16000, 12000, 11025, 8000, 7350,
}

// adtsRateIndex returns the ADTS sampling frequency index for rate. A rate
// outside the table cannot be expressed in an ADTS header and makes the
// session setup fail.
func adtsRateIndex(rate int) (int, bool) {
	for i, r := range adtsSampleRates {
		if r == rate {
			return i, true
		}
	}
	return 0, false
}

// adtsWrapper prefixes each raw AAC frame with a synthesized 7-byte ADTS
// header (MPEG-4, AAC-LC, no CRC, buffer fullness signalled VBR).
func adtsWrapper(rateIndex, channels int) func([]byte) []byte {
	return func(frame []byte) []byte {
		n := len(frame) + 7
		out := make([]byte, 0, n)
		var hdr [7]byte
		hdr[0] = 0xFF
		hdr[1] = 0xF1
		hdr[2] = byte(1<<6 | rateIndex<<2 | channels>>2)
		hdr[3] = byte((channels&3)<<6 | (n>>11)&0x3)
		hdr[4] = byte(n >> 3)
		hdr[5] = byte((n&7)<<5 | 0x1F)
		hdr[6] = 0xFC
		out = append(out, hdr[:]...)
		return append(out, frame...)
	}
}
