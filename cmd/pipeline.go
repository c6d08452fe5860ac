package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gtel-dmp/geopipe/internal/consolidate"
	"github.com/gtel-dmp/geopipe/internal/pipeline"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the full pipeline: ingest, consolidate, check",
	Long:  "Drains the geocoding backlog, rebuilds the warehouse table, and runs the data-quality checks, in that order. Consolidation is gated on a successful ingest step.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		ps, err := openPostgresStore(ctx)
		if err != nil {
			return err
		}
		defer ps.Close()

		if err := ps.Migrate(ctx); err != nil {
			return err
		}

		cons := consolidate.New(ps.Pool(),
			consolidate.WithTargetTable(cfg.Consolidate.TargetTable))
		p := pipeline.New(newCheckpointer(ps), cons, cfg.Ingest.BatchSize, cfg.Ingest.MaxBatches)

		result, runErr := p.Run(ctx)
		for _, step := range result.Steps {
			line := fmt.Sprintf("%-16s %s", step.Name, step.Status)
			if step.Status != pipeline.StepSkipped {
				line += fmt.Sprintf("  (%dms)", step.Duration)
			}
			if step.Error != "" {
				line += "  " + step.Error
			}
			fmt.Println(line)
		}
		if runErr != nil {
			return runErr
		}

		fmt.Printf("Ingested %d wards (%d failed), consolidated %d rows\n",
			result.Ingest.Attempted, result.Ingest.Failed, result.Consolidate.Consolidated)
		if !result.ChecksPassed {
			return fmt.Errorf("quality checks failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pipelineCmd)
}
