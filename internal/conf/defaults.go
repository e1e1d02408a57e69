package conf

import "github.com/spf13/viper"

// setDefaultConfig sets the default values for the configuration parameters.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "aircast")
	viper.SetDefault("main.log.enabled", false)
	viper.SetDefault("main.log.path", "aircast.log")
	viper.SetDefault("main.log.maxsizemb", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxagedays", 28)

	viper.SetDefault("audio.samplerate", DefaultSampleRate)
	viper.SetDefault("audio.periodframes", DefaultPeriodFrames)
	viper.SetDefault("audio.device", "sysdefault")

	viper.SetDefault("pool.encoders", 2)
	viper.SetDefault("pool.streamers", 2)
	viper.SetDefault("pool.recorders", 2)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "localhost:9090")

	viper.SetDefault("locale", "C")
}
