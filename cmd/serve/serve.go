// Package serve implements the main run mode: the pool is assembled from
// the settings and driven by the control channel on stdin/stdout until the
// peer closes it or the process is signalled.
package serve

import (
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aircast/aircast/internal/conf"
	"github.com/aircast/aircast/internal/control"
	"github.com/aircast/aircast/internal/engine"
	"github.com/aircast/aircast/internal/logging"
	"github.com/aircast/aircast/internal/observability"
)

// Command creates the serve sub-command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the backend with the control channel on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}
}

func run(settings *conf.Settings) error {
	// stdout carries the control channel, so all logs go to stderr.
	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	logOut := io.Writer(os.Stderr)
	if settings.Main.Log.Enabled {
		fileOut, err := logging.RotatingWriter(settings.Main.Log.Path, &logging.FileLoggerConfig{
			MaxSizeMB:  settings.Main.Log.MaxSizeMB,
			MaxBackups: settings.Main.Log.MaxBackups,
			MaxAgeDays: settings.Main.Log.MaxAgeDays,
		})
		if err != nil {
			return err
		}
		defer fileOut.Close()
		logOut = io.MultiWriter(os.Stderr, fileOut)
	}
	logging.SetOutput(logOut, os.Stderr, level)
	log := logging.ForService("serve")

	var m *observability.Metrics
	if settings.Metrics.Enabled {
		var err error
		m, err = observability.NewMetrics()
		if err != nil {
			return err
		}
		srv := m.Serve(settings.Metrics.Listen)
		defer srv.Close()
		log.Info("metrics endpoint up", "listen", settings.Metrics.Listen)
	}

	eng := engine.New(settings, m)
	if err := eng.Start(); err != nil {
		return err
	}
	defer eng.Shutdown()

	log.Info("pool started",
		"session_id", settings.SessionID,
		"encoders", eng.EncoderCount(),
		"streamers", eng.StreamerCount(),
		"recorders", eng.RecorderCount())

	// The dispatcher owns stdin; its return means the peer hung up.
	ctrlDone := make(chan error, 1)
	go func() {
		ctrlDone <- control.New(eng).Run(os.Stdin, os.Stdout)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case s := <-sig:
		log.Info("shutting down on signal", "signal", s.String())
		return nil
	case err := <-ctrlDone:
		if err != nil {
			log.Error("control channel failed", "error", err)
			return err
		}
		log.Info("control channel closed, shutting down")
		return nil
	}
}
