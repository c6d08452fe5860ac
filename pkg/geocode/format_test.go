package geocode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/unicode/norm"
)

func TestFormatAddress(t *testing.T) {
	tests := []struct {
		name     string
		addr     AddressInput
		expected string
	}{
		{
			"full address",
			AddressInput{Name: "Thành Sen", District: "Thạch Hà", City: "Hà Tĩnh"},
			"Thành Sen, Thạch Hà, Hà Tĩnh",
		},
		{
			"name only",
			AddressInput{Name: "Trần Phú"},
			"Trần Phú",
		},
		{
			"missing district",
			AddressInput{Name: "Cẩm Bình", City: "Hà Tĩnh"},
			"Cẩm Bình, Hà Tĩnh",
		},
		{
			"extra whitespace collapsed",
			AddressInput{Name: "  Đồng   Tiến ", City: " Hà Tĩnh"},
			"Đồng Tiến, Hà Tĩnh",
		},
		{
			"empty",
			AddressInput{},
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatAddress(tt.addr))
		})
	}
}

func TestFormatAddress_NormalizesNFD(t *testing.T) {
	// Decomposed input (combining diacritics) must come out identical to the
	// precomposed form.
	nfd := norm.NFD.String("Thạch Lạc")
	assert.NotEqual(t, "Thạch Lạc", nfd) // sanity: really decomposed

	got := FormatAddress(AddressInput{Name: nfd})
	assert.Equal(t, "Thạch Lạc", got)
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "Hà Tĩnh", NormalizeText("  Hà   Tĩnh "))
	assert.Equal(t, "Thạch Lạc", NormalizeText(norm.NFD.String("Thạch Lạc")))
	assert.Equal(t, "", NormalizeText("   "))
}
