package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/streamrec/streamrec/internal/recorder"
	"github.com/streamrec/streamrec/internal/replay"
	"github.com/streamrec/streamrec/internal/stream"
)

func newReplayCmd() *cobra.Command {
	var publish bool

	cmd := &cobra.Command{
		Use:   "replay SESSION",
		Short: "Read a recorded session back",
		Long: `Read a recorded session's archives in entry id order. With
--publish every entry is re-appended to the stream store under its
original id, restoring the streams as they were captured.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			mode, err := recorder.ParseMode(cfg.PayloadMode)
			if err != nil {
				return err
			}
			dir := filepath.Join(cfg.OutDir, args[0])

			if publish {
				rds, err := stream.NewRedis(cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)
				if err != nil {
					return err
				}
				defer rds.Close()

				n, err := replay.Publish(context.Background(), rds, dir, mode)
				if err != nil {
					return err
				}
				fmt.Printf("republished %d entries\n", n)
				return nil
			}

			count := 0
			err = replay.Walk(dir, func(e replay.Entry) error {
				fmt.Printf("%s\t%s\t%d bytes\n", e.ID, e.Channel, len(e.Payload))
				count++
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("%d entries\n", count)
			return nil
		},
	}
	cmd.Flags().BoolVar(&publish, "publish", false, "re-append entries to the stream store")
	return cmd
}
