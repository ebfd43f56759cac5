package serp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "google", q.Get("engine"))
		assert.Equal(t, "idraulico Torino", q.Get("q"))
		assert.Equal(t, "test-key", q.Get("api_key"))
		assert.Equal(t, "it", q.Get("gl"))
		assert.Equal(t, "10", q.Get("start"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Results{
			Organic: []OrganicResult{
				{Position: 1, Title: "Idraulico Bianchi", Link: "https://idraulicobianchi.it", Snippet: "Pronto intervento"},
			},
			Local: []LocalResult{
				{Title: "Idraulico Verdi", Address: "Corso Francia 10, Torino", Phone: "+39 011 555 0101", Rating: 4.2, Reviews: 31},
			},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.Search(context.Background(), Query{
		Text:    "idraulico Torino",
		Country: "it",
		Page:    2,
	})

	require.NoError(t, err)
	require.Len(t, resp.Organic, 1)
	assert.Equal(t, "https://idraulicobianchi.it", resp.Organic[0].Link)
	require.Len(t, resp.Local, 1)
	assert.Equal(t, "+39 011 555 0101", resp.Local[0].Phone)
}

func TestSearch_FirstPageOmitsStart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("start"))
		_ = json.NewEncoder(w).Encode(Results{})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), Query{Text: "q", Page: 1})
	require.NoError(t, err)
}

func TestSearch_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("try later")) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Search(context.Background(), Query{Text: "q"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
}
