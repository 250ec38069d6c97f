package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/streamrec/streamrec/internal/ctl"
	"github.com/streamrec/streamrec/internal/stream"
)

func newCtlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control the recording signal",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "start NAME",
			Short: "Signal a session start",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(func(ctx context.Context, rds *stream.Redis, key string) error {
					id, err := ctl.Start(ctx, rds, key, args[0])
					if err != nil {
						return err
					}
					fmt.Printf("started %s at %s\n", args[0], id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Signal the session end",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(func(ctx context.Context, rds *stream.Redis, key string) error {
					id, err := ctl.Stop(ctx, rds, key)
					if err != nil {
						return err
					}
					fmt.Printf("stopped at %s\n", id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the active session, if any",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(func(ctx context.Context, rds *stream.Redis, key string) error {
					name, id, err := ctl.Current(ctx, rds, key)
					if err != nil {
						return err
					}
					switch {
					case name != "":
						fmt.Printf("recording %s since %s\n", name, id)
					case !id.IsZero():
						fmt.Printf("idle since %s\n", id)
					default:
						fmt.Println("idle, no signal recorded")
					}
					return nil
				})
			},
		},
	)
	return cmd
}

// withStore connects to the store for one short control operation.
func withStore(fn func(ctx context.Context, rds *stream.Redis, key string) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rds, err := stream.NewRedis(cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rds.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return fn(ctx, rds, cfg.ControlKey)
}
