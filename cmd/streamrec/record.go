package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/streamrec/streamrec/internal/catalog"
	"github.com/streamrec/streamrec/internal/config"
	"github.com/streamrec/streamrec/internal/ctl"
	"github.com/streamrec/streamrec/internal/match"
	"github.com/streamrec/streamrec/internal/observability"
	"github.com/streamrec/streamrec/internal/recorder"
	"github.com/streamrec/streamrec/internal/storage/chrec"
	"github.com/streamrec/streamrec/internal/storage/ziprec"
	"github.com/streamrec/streamrec/internal/stream"
)

func newRecordCmd() *cobra.Command {
	var name string
	var single bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Run the capture loop",
		Long: `Run the capture loop: poll the control stream for session
boundaries and persist every tracked stream's entries to the
configured sink, one channel per stream, while a session is active.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// --single defaults to "a name was given at launch".
			if !cmd.Flags().Changed("single") {
				single = name != ""
			}
			return runRecord(name, single)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "start a session with this name on entry")
	cmd.Flags().BoolVar(&single, "single", false, "stop the session on exit (defaults to true when --name is set)")
	return cmd
}

func runRecord(name string, single bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info().Str("version", version).Msg("Starting streamrec")

	shutdownTracer, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    "streamrec",
		ServiceVersion: version,
		Endpoint:       cfg.TracingEndpoint,
		Protocol:       cfg.TracingProtocol,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer")
	} else {
		defer shutdownTracer(context.Background())
	}

	rds, err := stream.NewRedis(cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rds.Close()

	sink, err := buildSink(cfg)
	if err != nil {
		return err
	}

	var cat recorder.Cataloger
	if path := cfg.ResolvedCatalogPath(); path != "" {
		if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		store, err := catalog.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
		cat = store
	}

	ids, patterns := cfg.SplitStreams()
	include, err := match.Compile(patterns)
	if err != nil {
		return err
	}
	ignore, err := match.Compile(cfg.IgnoreStreams)
	if err != nil {
		return err
	}

	ctrl := recorder.NewController(rds, sink, cat, recorder.Options{
		ControlKey:     cfg.ControlKey,
		FixedStreams:   ids,
		Include:        include,
		Ignore:         ignore,
		StreamRefresh:  cfg.StreamRefresh(),
		DataBlock:      cfg.DataBlock(),
		WaitBlock:      cfg.WaitBlock(),
		NoStreamsSleep: cfg.NoStreamsSleep(),
		DrainTimeout:   cfg.DrainTimeout(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if name != "" {
		if err := ctrl.StartSession(ctx, rds, name); err != nil {
			return err
		}
		log.Info().Str("session", name).Msg("Session started at launch")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- recorder.NewService(ctrl).Run(ctx)
	}()

	select {
	case <-sigChan:
		log.Info().Msg("Received shutdown signal")
		cancel()
		err = <-errChan
	case err = <-errChan:
	}

	if single {
		// Signal the session end so other recorders close it too.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.WaitBlock())
		defer stopCancel()
		if _, serr := ctl.Stop(stopCtx, rds, cfg.ControlKey); serr != nil {
			log.Error().Err(serr).Msg("Failed to signal session stop")
		}
	}

	if err != nil {
		return err
	}
	log.Info().Msg("Recorder stopped")
	return nil
}

func buildSink(cfg *config.Config) (recorder.Sink, error) {
	mode, err := recorder.ParseMode(cfg.PayloadMode)
	if err != nil {
		return nil, err
	}

	switch cfg.Sink {
	case "zip":
		return ziprec.New(cfg.OutDir, mode, cfg.MaxLen, cfg.MaxSize), nil
	case "clickhouse":
		client, err := chrec.NewClient(cfg.ClickHouseAddr, cfg.ClickHouseDB)
		if err != nil {
			return nil, err
		}
		return chrec.New(client, cfg.ClickHouseTable, mode, cfg.MaxLen, cfg.MaxSize)
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
}
