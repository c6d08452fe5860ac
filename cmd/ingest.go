package main

import (
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Incremental geocoding ingestion",
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
