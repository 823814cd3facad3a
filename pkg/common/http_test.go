package common

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := HTTPClient(5 * time.Second)
	assert.Equal(t, 5*time.Second, client.Timeout)

	req, err := http.NewRequest(http.MethodPost, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "caller")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, UserAgent(), gotUA)
	assert.Equal(t, "caller", req.Header.Get("User-Agent"), "caller's request must not change")
}

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, Version())
	assert.Equal(t, "Wattlog/"+Version(), UserAgent())
}
