package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gtel-dmp/geopipe/internal/consolidate"
)

var consolidateCheckOnly bool

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Rebuild the warehouse table from staged geocode results",
	Long:  "Deduplicates staged geocode loads by place_id and upserts them into the warehouse table, then runs the data-quality checks. Requires the postgres store driver.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ps, err := openPostgresStore(cmd.Context())
		if err != nil {
			return err
		}
		defer ps.Close()

		cons := consolidate.New(ps.Pool(),
			consolidate.WithTargetTable(cfg.Consolidate.TargetTable))

		if !consolidateCheckOnly {
			outcome, err := cons.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Scanned %d loads: %d consolidated, %d duplicates collapsed, %d invalid dropped\n",
				outcome.Scanned, outcome.Consolidated, outcome.Duplicates, outcome.Invalid)
		}

		checks, err := cons.RunChecks(cmd.Context())
		if err != nil {
			return err
		}
		failed := 0
		for _, check := range checks {
			status := "PASS"
			if !check.Passed {
				status = "FAIL"
				failed++
			}
			fmt.Printf("%-20s %s", check.Name, status)
			if check.Detail != "" {
				fmt.Printf("  (%s)", check.Detail)
			}
			fmt.Println()
		}
		if failed > 0 {
			return fmt.Errorf("%d quality checks failed", failed)
		}
		return nil
	},
}

func init() {
	consolidateCmd.Flags().BoolVar(&consolidateCheckOnly, "check", false, "run quality checks without consolidating")
	rootCmd.AddCommand(consolidateCmd)
}
