package codec

// Params carries the negotiated settings an engine is opened with.
type Params struct {
	SampleRate int // target rate in Hz
	Channels   int // 1 or 2
	BitRate    int // kb/s, zero when the codec runs in quality mode
	Quality    float64
	Variable   bool // variable-bitrate mode requested
}

// Engine is the opaque compression boundary. One engine serves one encoder
// session; calls arrive from that session's goroutine only, except Close,
// which the registry serializes across the process.
type Engine interface {
	// FrameSamples is the number of samples per channel consumed by each
	// Encode call.
	FrameSamples() int

	// Header returns the container setup bytes to emit before any audio,
	// or nil for formats with no stream header.
	Header() ([]byte, error)

	// Encode compresses one frame. It may return no bytes when the codec
	// is still accumulating input. Mono engines receive right == nil.
	Encode(left, right []float32) ([]byte, error)

	// Flush closes out the current stream segment and returns any trailer
	// bytes. Header may be called again afterwards to begin a new segment
	// on the same engine.
	Flush() ([]byte, error)

	// Close releases codec resources. The engine is unusable afterwards.
	Close() error
}

// MetadataSetter is implemented by engines whose container embeds stream
// metadata in its header. The pipeline calls it before each Header.
type MetadataSetter interface {
	SetMetadata(artist, title, album, custom string)
}
