// Package conf holds the aircast backend configuration. Settings are read
// once at process start from an optional YAML file plus environment-style
// overrides, and are not revisited afterwards.
package conf

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Settings is the root configuration structure.
type Settings struct {
	Debug bool // global debug flag

	Main struct {
		Name string // instance name, used in log identification
		Log  LogConfig
	}

	Audio struct {
		SampleRate   int // native sample rate of the capture source
		PeriodFrames int // frames delivered per capture callback
		Device       string
	}

	Pool struct {
		Encoders  int
		Streamers int
		Recorders int
	}

	Metrics struct {
		Enabled bool
		Listen  string // host:port for the /metrics endpoint
	}

	Locale    string
	SessionID string // unique identity of this backend session
}

// LogConfig defines the configuration for file logging.
type LogConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a new
// Settings instance and installs it as the process settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if settings.SessionID == "" {
		settings.SessionID = uuid.NewString()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("aircast")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/aircast")
	viper.AddConfigPath("/etc/aircast")

	setDefaultConfig()

	// the launcher historically hands over pool sizes through the environment
	bindEnvOverrides()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

func bindEnvOverrides() {
	_ = viper.BindEnv("pool.encoders", "num_encoders")
	_ = viper.BindEnv("pool.streamers", "num_streamers")
	_ = viper.BindEnv("pool.recorders", "num_recorders")
	_ = viper.BindEnv("audio.samplerate", "sample_rate")
	_ = viper.BindEnv("locale", "session_locale")
	_ = viper.BindEnv("sessionid", "session_id")
}

// ValidateSettings rejects configurations the pipeline cannot run with.
func ValidateSettings(settings *Settings) error {
	if settings.Pool.Encoders < 0 || settings.Pool.Streamers < 0 || settings.Pool.Recorders < 0 {
		return fmt.Errorf("pool sizes must not be negative")
	}
	if settings.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio sample rate must be positive, got %d", settings.Audio.SampleRate)
	}
	if settings.Audio.PeriodFrames <= 0 {
		return fmt.Errorf("audio period frames must be positive, got %d", settings.Audio.PeriodFrames)
	}
	return nil
}

// Setting returns the current settings instance, initializing it if necessary.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
