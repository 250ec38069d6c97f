package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/streamrec/streamrec/internal/catalog"
)

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List cataloged recording sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := cfg.ResolvedCatalogPath()
			if path == "" {
				return fmt.Errorf("session catalog is disabled")
			}

			store, err := catalog.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.List(context.Background())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTART\tEND\tENTRIES\tBYTES\tCHANNELS")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
					s.Name, s.StartID, s.EndID, s.Entries, s.Bytes, len(s.Channels))
			}
			return w.Flush()
		},
	}
}
