package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aircast/aircast/cmd"
	"github.com/aircast/aircast/internal/conf"
	"github.com/aircast/aircast/internal/logging"
)

func main() {
	// Early logging setup so configuration errors are reported sanely;
	// serve re-routes output once the settings are known.
	logging.Init(slog.LevelInfo)

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cmd.RootCommand(settings).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
