// Package cmd assembles the command-line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aircast/aircast/cmd/codecs"
	"github.com/aircast/aircast/cmd/serve"
	"github.com/aircast/aircast/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aircast",
		Short: "Aircast streaming backend",
	}

	if err := setupFlags(rootCmd); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		codecs.Command(),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Re-sync so command-line flags take precedence over the file
		// and environment values read at load time.
		if err := viper.Unmarshal(settings); err != nil {
			return fmt.Errorf("error unmarshaling config: %w", err)
		}
		return conf.ValidateSettings(settings)
	}

	return rootCmd
}

// setupFlags defines the global flags and binds them into viper.
func setupFlags(rootCmd *cobra.Command) error {
	rootCmd.PersistentFlags().BoolP("debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().String("device", viper.GetString("audio.device"), "Capture device name, or 'none' for a silent feed")
	rootCmd.PersistentFlags().Int("samplerate", viper.GetInt("audio.samplerate"), "Native sample rate of the capture source")
	rootCmd.PersistentFlags().Int("period-frames", viper.GetInt("audio.periodframes"), "Frames delivered per capture callback")
	rootCmd.PersistentFlags().Int("encoders", viper.GetInt("pool.encoders"), "Number of encoder slots")
	rootCmd.PersistentFlags().Int("streamers", viper.GetInt("pool.streamers"), "Number of streamer slots")
	rootCmd.PersistentFlags().Int("recorders", viper.GetInt("pool.recorders"), "Number of recorder slots")
	rootCmd.PersistentFlags().Bool("metrics", viper.GetBool("metrics.enabled"), "Expose a prometheus /metrics endpoint")
	rootCmd.PersistentFlags().String("metrics-listen", viper.GetString("metrics.listen"), "host:port of the metrics endpoint")

	bindings := map[string]string{
		"debug":              "debug",
		"audio.device":       "device",
		"audio.samplerate":   "samplerate",
		"audio.periodframes": "period-frames",
		"pool.encoders":      "encoders",
		"pool.streamers":     "streamers",
		"pool.recorders":     "recorders",
		"metrics.enabled":    "metrics",
		"metrics.listen":     "metrics-listen",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
