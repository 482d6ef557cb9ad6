package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xraph/spool/engine"
	"github.com/xraph/spool/queue"
)

func newStatsCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print per-queue job counts once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			s, closeStore, err := openStore(cmd.Context(), cfg.Store, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer closeStore()

			eng, err := engine.New(s,
				engine.WithConfig(cfg.SpoolConfig()),
				engine.WithQueues(cfg.QueueConfigs()...),
				engine.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			stats, err := eng.Monitor().ListQueueStats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			return printStats(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func printStats(w io.Writer, stats []queue.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "QUEUE\tWAITING\tACTIVE\tDELAYED\tCOMPLETED\tFAILED\tPAUSED")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%t\n",
			s.Name, s.Waiting, s.Active, s.Delayed, s.Completed, s.Failed, s.Paused)
	}
	return tw.Flush()
}
