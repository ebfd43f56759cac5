package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		region string
		want   string
	}{
		{"italian national", "02 1234 5678", "IT", "+390212345678"},
		{"italian e164 passthrough", "+39 02 1234 5678", "", "+390212345678"},
		{"italian mobile", "347 123 4567", "IT", "+393471234567"},
		{"german", "030 901820", "DE", "+4930901820"},
		{"garbage", "call us", "IT", ""},
		{"too short", "123", "IT", ""},
		{"empty", "", "IT", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.raw, tt.region))
		})
	}
}

func TestNormalizePhone_DefaultRegion(t *testing.T) {
	// Region defaults to IT when not supplied.
	assert.Equal(t, "+390669884857", NormalizePhone("06 6988 4857", ""))
}

func TestPhoneType(t *testing.T) {
	assert.Equal(t, LineMobile, PhoneType("+393471234567", ""))
	assert.Equal(t, LineFixed, PhoneType("+390212345678", ""))
	assert.Equal(t, LineUnknown, PhoneType("not a phone", "IT"))
}

func TestIsPossiblePhone(t *testing.T) {
	assert.True(t, IsPossiblePhone("+39 02 1234 5678", ""))
	assert.False(t, IsPossiblePhone("hello", "IT"))
}

func TestPhonesFromText(t *testing.T) {
	text := "Tel: 02 1234 5678, Mobile +39 347 123 4567. Call 02 1234 5678 again."
	got := PhonesFromText(text, "IT")
	require.Len(t, got, 2)
	assert.Contains(t, got, "+390212345678")
	assert.Contains(t, got, "+393471234567")
}

func TestPhonesFromText_Empty(t *testing.T) {
	assert.Empty(t, PhonesFromText("no numbers here", "IT"))
}
