package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gtel-dmp/geopipe/internal/ingest"
)

var ingestStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ingestion progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		var counts ingest.Counts
		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() (err error) { counts.Wards, err = st.CountWards(ctx); return })
		g.Go(func() (err error) { counts.Loads, err = st.CountLoads(ctx); return })
		g.Go(func() (err error) { counts.Failures, err = st.CountFailures(ctx); return })
		g.Go(func() (err error) { counts.Watermark, err = st.Watermark(ctx); return })
		if err := g.Wait(); err != nil {
			return err
		}

		// Counted against the watermark rather than derived from the total:
		// ward IDs are sparse when an import rolls back.
		remaining, err := st.CountUnprocessed(cmd.Context(), counts.Watermark)
		if err != nil {
			return err
		}

		fmt.Printf("Wards:      %d\n", counts.Wards)
		fmt.Printf("Watermark:  %d (%d unprocessed)\n", counts.Watermark, remaining)
		fmt.Printf("Staged:     %d geocode loads\n", counts.Loads)
		fmt.Printf("Failures:   %d\n", counts.Failures)
		return nil
	},
}

var ingestFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List recent geocoding failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		failures, err := st.ListFailures(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(failures) == 0 {
			fmt.Println("No failures recorded")
			return nil
		}

		for _, f := range failures {
			fmt.Printf("ward %d  %s  %s  (%s)\n",
				f.WardID, f.Address, f.Error, f.FailedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	ingestFailuresCmd.Flags().Int("limit", 50, "max failures to list")
	ingestCmd.AddCommand(ingestStatusCmd)
	ingestCmd.AddCommand(ingestFailuresCmd)
}
