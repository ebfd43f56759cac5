package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare domain", "example.com", "https://example.com"},
		{"scheme kept", "http://example.com/", "http://example.com"},
		{"trailing slash", "https://example.com/about/", "https://example.com/about"},
		{"lowercased", "HTTPS://Example.COM/Path", "https://example.com/path"},
		{"no dot", "localhost", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "example.com", Domain("https://www.example.com/contact"))
	assert.Equal(t, "example.com", Domain("example.com"))
	assert.Equal(t, "sub.example.com", Domain("http://sub.example.com"))
	assert.Equal(t, "", Domain(""))
}

func TestDomain_SameSiteDifferentForms(t *testing.T) {
	a := Domain("https://www.example.com/")
	b := Domain("http://example.com/en/home")
	assert.Equal(t, a, b)
}
