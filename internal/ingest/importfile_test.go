package ingest

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/gtel-dmp/geopipe/internal/model"
)

func TestReadWardsCSV(t *testing.T) {
	input := `name,district,city
Thạch Hạ,Thạch Hà,Hà Tĩnh
Thạch Trung,,Hà Tĩnh
  Đại Nài  ,Thành phố Hà Tĩnh,Hà Tĩnh
,skipped,row
`
	wards, err := ReadWardsCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, wards, 3)

	assert.Equal(t, model.WardInput{Name: "Thạch Hạ", District: "Thạch Hà", City: "Hà Tĩnh"}, wards[0])
	assert.Equal(t, "", wards[1].District)
	assert.Equal(t, "Đại Nài", wards[2].Name, "fields are whitespace-squeezed")
}

func TestReadWardsCSV_NoHeader(t *testing.T) {
	wards, err := ReadWardsCSV(strings.NewReader("Thạch Hạ,Thạch Hà,Hà Tĩnh\n"))
	require.NoError(t, err)
	require.Len(t, wards, 1)
	assert.Equal(t, "Thạch Hạ", wards[0].Name)
}

func TestReadWardsCSV_RaggedRows(t *testing.T) {
	wards, err := ReadWardsCSV(strings.NewReader("Thạch Hạ\nThạch Trung,Thạch Hà\n"))
	require.NoError(t, err)
	require.Len(t, wards, 2)
	assert.Empty(t, wards[0].District)
	assert.Equal(t, "Thạch Hà", wards[1].District)
}

func TestReadWardsXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wards.xlsx")

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Wards")
	require.NoError(t, err)
	for _, cells := range [][]string{
		{"name", "district", "city"},
		{"Thạch Hạ", "Thạch Hà", "Hà Tĩnh"},
		{"Thạch Trung", "", "Hà Tĩnh"},
	} {
		row := sheet.AddRow()
		for _, v := range cells {
			row.AddCell().Value = v
		}
	}
	require.NoError(t, f.Save(path))

	wards, err := ReadWardsXLSX(path)
	require.NoError(t, err)
	require.Len(t, wards, 2)
	assert.Equal(t, "Thạch Hạ", wards[0].Name)
	assert.Equal(t, "Hà Tĩnh", wards[1].City)
}

func TestReadWardsXLSX_MissingFile(t *testing.T) {
	_, err := ReadWardsXLSX(filepath.Join(t.TempDir(), "missing.xlsx"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open xlsx")
}

func TestParseWardText(t *testing.T) {
	wards := ParseWardText("Thạch Hạ, Thạch Trung , ,Đại Nài,")
	require.Len(t, wards, 3)
	assert.Equal(t, "Thạch Hạ", wards[0].Name)
	assert.Equal(t, "Thạch Trung", wards[1].Name)
	assert.Equal(t, "Đại Nài", wards[2].Name)
}

func TestParseWardText_Empty(t *testing.T) {
	assert.Empty(t, ParseWardText(""))
	assert.Empty(t, ParseWardText(" , , "))
}
