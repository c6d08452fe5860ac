package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gtel-dmp/geopipe/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config.yaml in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		const path = "config.yaml"

		if !initForce {
			if _, err := os.Stat(path); err == nil {
				return eris.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}

		starter := starterConfig()
		data, err := yaml.Marshal(starter)
		if err != nil {
			return eris.Wrap(err, "marshal starter config")
		}

		header := []byte("# geopipe configuration. Every key can also be set via\n# GEOPIPE_<SECTION>_<KEY> environment variables.\n")
		if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
			return eris.Wrapf(err, "write %s", path)
		}

		fmt.Printf("Wrote %s\n", path)
		fmt.Println("Set GEOPIPE_GEOCODE_API_KEY and GEOPIPE_STORE_DATABASE_URL before running the pipeline.")
		return nil
	},
}

// starterConfig builds a Config populated with the shipped defaults.
func starterConfig() *config.Config {
	return &config.Config{
		Store: config.StoreConfig{
			Driver:     "postgres",
			SQLitePath: "geopipe.db",
			MaxConns:   10,
			MinConns:   2,
		},
		Server: config.ServerConfig{
			Port:           8002,
			AllowedOrigins: []string{"*"},
		},
		Geocode: config.GeocodeConfig{
			BaseURL:      "https://maps.gtelmaps.vn/api/google/geocode/v1/search",
			TimeoutSecs:  30,
			MaxRetries:   3,
			RateLimitRPS: 5,
		},
		Ingest: config.IngestConfig{
			BatchSize: 50,
		},
		Consolidate: config.ConsolidateConfig{
			TargetTable: "warehouse.geocoded_wards",
		},
		Log: config.LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config.yaml")
	rootCmd.AddCommand(initCmd)
}
