package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gtel-dmp/geopipe/internal/ingest"
	"github.com/gtel-dmp/geopipe/internal/model"
)

var (
	importCSV  string
	importXLSX string
	importText string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import ward addresses into the raw schema",
	Long:  "Appends wards from a CSV file, an XLSX file, or a comma-separated list of names. Columns are name, district, city; only name is required.",
	RunE: func(cmd *cobra.Command, args []string) error {
		wards, err := collectWards()
		if err != nil {
			return err
		}
		if len(wards) == 0 {
			return eris.New("no wards to import (use --csv, --xlsx, or --text)")
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		created, err := st.ImportWards(cmd.Context(), wards)
		if err != nil {
			return err
		}

		zap.L().Info("wards imported", zap.Int("count", len(created)))
		fmt.Printf("Imported %d wards (IDs %d-%d)\n",
			len(created), created[0].ID, created[len(created)-1].ID)
		return nil
	},
}

func collectWards() ([]model.WardInput, error) {
	switch {
	case importCSV != "":
		f, err := os.Open(importCSV)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", importCSV)
		}
		defer f.Close()
		return ingest.ReadWardsCSV(f)
	case importXLSX != "":
		return ingest.ReadWardsXLSX(importXLSX)
	case importText != "":
		return ingest.ParseWardText(importText), nil
	default:
		return nil, nil
	}
}

func init() {
	importCmd.Flags().StringVar(&importCSV, "csv", "", "CSV file with ward rows")
	importCmd.Flags().StringVar(&importXLSX, "xlsx", "", "XLSX file with ward rows")
	importCmd.Flags().StringVar(&importText, "text", "", "comma-separated ward names")
	importCmd.MarkFlagsMutuallyExclusive("csv", "xlsx", "text")
	rootCmd.AddCommand(importCmd)
}
