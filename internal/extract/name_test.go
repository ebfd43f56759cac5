package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"legal suffix srl", "Studio Dentistico Rossi S.r.l.", "studio dentistico rossi"},
		{"legal suffix bare", "Rossi SRL", "rossi"},
		{"gmbh", "Müller Zahnklinik GmbH", "muller zahnklinik"},
		{"punctuation", "Dr. Bianchi & Partners", "dr bianchi partners"},
		{"diacritics", "Café Motta", "cafe motta"},
		{"whitespace", "  Alpha   Beta  ", "alpha beta"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NameKey(tt.in))
		})
	}
}

func TestNameKey_SameBusinessDifferentSpelling(t *testing.T) {
	a := NameKey("Müller Zahnklinik GmbH")
	b := NameKey("muller zahnklinik")
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestCityKey(t *testing.T) {
	assert.Equal(t, "munchen", CityKey("München"))
	assert.Equal(t, CityKey("MILANO"), CityKey("Milano"))
}

func TestNormalizeCity(t *testing.T) {
	assert.Equal(t, "Reggio Emilia", NormalizeCity("reggio  emilia"))
	assert.Equal(t, "Wien", NormalizeCity("WIEN"))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "Alpha Beta", NormalizeName("  Alpha   Beta "))
}
