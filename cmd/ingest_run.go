package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gtel-dmp/geopipe/internal/ingest"
	"github.com/gtel-dmp/geopipe/internal/model"
)

var (
	ingestBatchSize int
	ingestAll       bool
)

var ingestRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Geocode the next batch of unprocessed wards",
	Long:  "Selects wards above the watermark, geocodes each through the GTEL Maps API, stages results, and advances the watermark. With --all, repeats until the backlog is drained.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		cp := newCheckpointer(st)

		batchSize := ingestBatchSize
		if batchSize == 0 {
			batchSize = cfg.Ingest.BatchSize
		}

		var outcome model.BatchOutcome
		if ingestAll {
			outcome, err = cp.RunAll(cmd.Context(), batchSize, cfg.Ingest.MaxBatches)
		} else {
			outcome, err = cp.RunBatch(cmd.Context(), batchSize)
		}
		if err != nil {
			if errors.Is(err, ingest.ErrRunLocked) {
				return fmt.Errorf("another ingestion run is already in progress")
			}
			return err
		}

		printOutcome(outcome)
		return nil
	},
}

func printOutcome(o model.BatchOutcome) {
	if o.Empty() {
		fmt.Printf("Nothing to do (watermark %d)\n", o.Watermark)
		return
	}
	fmt.Printf("Attempted %d wards: %d geocoded, %d failed (watermark now %d)\n",
		o.Attempted, o.Succeeded, o.Failed, o.Watermark)
	if len(o.FailedIDs) > 0 {
		fmt.Printf("Failed ward IDs: %v\n", o.FailedIDs)
	}
}

func init() {
	ingestRunCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 0, "records per batch (default from config)")
	ingestRunCmd.Flags().BoolVar(&ingestAll, "all", false, "run batches until the backlog is drained")
	ingestCmd.AddCommand(ingestRunCmd)
}
