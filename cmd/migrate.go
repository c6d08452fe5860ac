package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gtel-dmp/geopipe/internal/ingest"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Creates the raw and warehouse schemas and applies any pending migrations. Safe to run repeatedly; concurrent runs are serialized by an advisory lock.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		if _, ok := st.(*ingest.SQLiteStore); ok {
			fmt.Println("SQLite schema up to date")
		} else {
			fmt.Println("Migrations applied")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
