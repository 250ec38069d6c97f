package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/streamrec/streamrec/internal/config"
	"github.com/streamrec/streamrec/internal/observability"
)

const version = "0.1.0"

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "streamrec",
		Short:         "Record append-only streams to rotated archives",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		newRecordCmd(),
		newCtlCmd(),
		newSessionsCmd(),
		newReplayCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and initializes logging; every
// subcommand starts here.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogFile)
	return cfg, nil
}
