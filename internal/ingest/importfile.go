package ingest

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/gtel-dmp/geopipe/internal/model"
	"github.com/gtel-dmp/geopipe/pkg/geocode"
)

// ReadWardsCSV parses ward rows from CSV. Columns are name, district, city;
// district and city are optional. A header row starting with "name" (any
// case) is skipped.
func ReadWardsCSV(r io.Reader) ([]model.WardInput, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var wards []model.WardInput
	for i := 0; ; i++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "import: read csv row %d", i+1)
		}
		if i == 0 && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "name") {
			continue
		}
		w, ok := wardFromRow(record)
		if !ok {
			continue
		}
		wards = append(wards, w)
	}
	return wards, nil
}

// ReadWardsXLSX parses ward rows from the first sheet of an XLSX file using
// the same column layout as ReadWardsCSV.
func ReadWardsXLSX(path string) ([]model.WardInput, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "import: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("import: xlsx file has no sheets")
	}

	var wards []model.WardInput
	for i, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if i == 0 && len(cells) > 0 && strings.EqualFold(strings.TrimSpace(cells[0]), "name") {
			continue
		}
		w, ok := wardFromRow(cells)
		if !ok {
			continue
		}
		wards = append(wards, w)
	}
	return wards, nil
}

// ParseWardText splits a comma-separated list of ward names into inputs.
// Empty segments are dropped.
func ParseWardText(text string) []model.WardInput {
	var wards []model.WardInput
	for _, part := range strings.Split(text, ",") {
		name := geocode.NormalizeText(part)
		if name == "" {
			continue
		}
		wards = append(wards, model.WardInput{Name: name})
	}
	return wards
}

func wardFromRow(cells []string) (model.WardInput, bool) {
	var w model.WardInput
	if len(cells) > 0 {
		w.Name = geocode.NormalizeText(cells[0])
	}
	if w.Name == "" {
		return model.WardInput{}, false
	}
	if len(cells) > 1 {
		w.District = geocode.NormalizeText(cells[1])
	}
	if len(cells) > 2 {
		w.City = geocode.NormalizeText(cells[2])
	}
	return w, true
}
