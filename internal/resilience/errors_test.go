package resilience

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked", MarkTransient(eris.New("503"), 503), true},
		{"marked and wrapped", eris.Wrap(MarkTransient(eris.New("503"), 503), "places: search failed"), true},
		{"plain", eris.New("invalid api key"), false},
		{"cancelled", context.Canceled, false},
		{"string timeout", eris.New("read tcp: i/o timeout"), true},
		{"dns", eris.New("dial tcp: lookup api.example.com: no such host"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 422} {
		assert.False(t, RetryableStatus(code), "status %d", code)
	}
}
