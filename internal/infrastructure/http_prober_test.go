package infrastructure

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProber_CapturesResponseHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer x", r.Header.Get("Authorization"))
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Add("X-Multi", "a")
		w.Header().Add("X-Multi", "b")
		w.Write([]byte("body"))
	}))
	defer server.Close()

	prober := NewHTTPProber(time.Second, "test")
	resp, err := prober.Probe(context.Background(), server.URL, map[string]string{"Authorization": "Bearer x"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", resp.Reason)
	assert.Equal(t, "HTTP/1.1", resp.Version)
	assert.Equal(t, []string{"a", "b"}, resp.Headers["X-Multi"])
	assert.True(t, resp.SupportsRanges())
}

func TestHTTPProber_NonOKStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	resp, err := NewHTTPProber(time.Second, "").Probe(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Not Found", resp.Reason)
	assert.False(t, resp.SupportsRanges())
}

func TestHTTPProber_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewHTTPProber(time.Second, "").Probe(context.Background(), url, nil)
	assert.Error(t, err)
}
