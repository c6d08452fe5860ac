package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetImportFlags() {
	importCSV = ""
	importXLSX = ""
	importText = ""
}

func TestImportCmd_Metadata(t *testing.T) {
	assert.Equal(t, "import", importCmd.Use)
	assert.NotEmpty(t, importCmd.Short)

	for _, name := range []string{"csv", "xlsx", "text"} {
		require.NotNil(t, importCmd.Flags().Lookup(name), "expected --%s flag", name)
	}
}

func TestCollectWards_FromCSV(t *testing.T) {
	resetImportFlags()
	path := filepath.Join(t.TempDir(), "wards.csv")
	require.NoError(t, os.WriteFile(path,
		[]byte("name,district,city\nThạch Hạ,Thạch Hà,Hà Tĩnh\n"), 0o644))
	importCSV = path

	wards, err := collectWards()
	require.NoError(t, err)
	require.Len(t, wards, 1)
	assert.Equal(t, "Thạch Hạ", wards[0].Name)
}

func TestCollectWards_FromText(t *testing.T) {
	resetImportFlags()
	importText = "Thạch Hạ, Thạch Trung"

	wards, err := collectWards()
	require.NoError(t, err)
	require.Len(t, wards, 2)
}

func TestCollectWards_BadCSVPath(t *testing.T) {
	resetImportFlags()
	importCSV = filepath.Join(t.TempDir(), "missing.csv")

	_, err := collectWards()
	require.Error(t, err)
}

func TestCollectWards_NoSource(t *testing.T) {
	resetImportFlags()

	wards, err := collectWards()
	require.NoError(t, err)
	assert.Empty(t, wards)
}
