package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseClient_GetSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		w.Write([]byte("OK"))
	}))
	defer srv.Close()

	c := NewBaseClient(srv.URL)
	c.SetHeader("apikey", "anon-key")

	body, err := c.Get(context.Background(), "/health")
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))
}

func TestBaseClient_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewBaseClient(srv.URL).Get(context.Background(), "/health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
