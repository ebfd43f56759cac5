package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "Info@Example.COM", "info@example.com"},
		{"trim", "  info@example.com ", "info@example.com"},
		{"no at", "example.com", ""},
		{"no tld", "info@localhost", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeEmail(tt.in))
		})
	}
}

func TestEmailDomain(t *testing.T) {
	assert.Equal(t, "example.com", EmailDomain("info@example.com"))
	assert.Equal(t, "", EmailDomain("nonsense"))
}

func TestIsDisposableDomain(t *testing.T) {
	assert.True(t, IsDisposableDomain("mailinator.com"))
	assert.True(t, IsDisposableDomain("10minutemail.com"))
	assert.False(t, IsDisposableDomain("example.com"))
}

func TestSuggestDomain(t *testing.T) {
	assert.Equal(t, "gmail.com", SuggestDomain("gmial.com"))
	assert.Equal(t, "", SuggestDomain("example.com"))
}

func TestEmailsFromText(t *testing.T) {
	text := "Contact info@example.com or Sales@Example.com for details."
	got := EmailsFromText(text)
	require.Len(t, got, 2)
	assert.Contains(t, got, "info@example.com")
	assert.Contains(t, got, "sales@example.com")
}

func TestEmailsFromText_SkipsDisposable(t *testing.T) {
	got := EmailsFromText("real@example.com junk@mailinator.com")
	require.Len(t, got, 1)
	assert.Equal(t, "real@example.com", got[0])
}
