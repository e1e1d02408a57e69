package conf

// Audio pipeline constants.
const (
	// DefaultSampleRate is the assumed native rate of the capture source.
	DefaultSampleRate = 48000

	// DefaultPeriodFrames is the number of frames per capture callback.
	DefaultPeriodFrames = 1024

	// NumChannels is fixed: the feed delivers stereo pairs.
	NumChannels = 2

	// BytesPerSample for the float32 PCM carried through the ring channels.
	BytesPerSample = 4
)
