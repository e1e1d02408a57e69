package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	valid := func() *Settings {
		s := &Settings{}
		s.Pool.Encoders = 2
		s.Pool.Streamers = 2
		s.Pool.Recorders = 2
		s.Audio.SampleRate = 48000
		s.Audio.PeriodFrames = 1024
		return s
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults pass", func(s *Settings) {}, false},
		{"zero pools allowed", func(s *Settings) { s.Pool.Encoders = 0 }, false},
		{"negative pool", func(s *Settings) { s.Pool.Recorders = -1 }, true},
		{"zero sample rate", func(s *Settings) { s.Audio.SampleRate = 0 }, true},
		{"zero period", func(s *Settings) { s.Audio.PeriodFrames = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := valid()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
