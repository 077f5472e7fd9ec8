package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kidwatch/kidwatch-go/sink/sqlite"
)

func newEventsCmd(g *globalFlags) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print recent violations from the sqlite event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			if cfg.Sink.SQLite.Path == "" {
				return fmt.Errorf("no event database configured, set sink.sqlite.path")
			}
			store, err := sqlite.Open(cfg.Sink.SQLite.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.List(context.Background(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "\t")
				return enc.Encode(events)
			}
			if len(events) == 0 {
				_, _ = fmt.Fprintln(out, "no events")
				return nil
			}
			for _, ev := range events {
				_, _ = fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", ev.Timestamp.Local().Format(time.DateTime), ev.Mode, ev.SubjectID, ev.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
