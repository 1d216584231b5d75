package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/listing-crawler/internal/scheduler"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Seed and inspect the crawl queue",
	}

	var (
		listingID string
		priority  int
	)
	add := &cobra.Command{
		Use:   "add URL...",
		Short: "Queue root URLs, optionally for a listing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			seeds := make([]scheduler.Seed, 0, len(args))
			for _, u := range args {
				seeds = append(seeds, scheduler.Seed{URL: u, ListingID: listingID, Priority: priority})
			}
			n, err := app.Scheduler.Enqueue(cmd.Context(), seeds)
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d\n", n)
			return nil
		},
	}
	add.Flags().StringVar(&listingID, "listing", "", "listing id the URLs belong to")
	add.Flags().IntVar(&priority, "priority", 0, "dispatch priority (lower runs first)")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			st, err := app.Scheduler.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("queue stats: %w", err)
			}
			renderQueueStats(cmd.OutOrStdout(), st)
			return nil
		},
	}

	cmd.AddCommand(add, stats)
	return cmd
}
