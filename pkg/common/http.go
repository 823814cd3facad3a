// Package common holds helpers shared by the outbound integrations.
package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// Version returns the version the binary was built as.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent is sent with every outbound request.
func UserAgent() string {
	return "Wattlog/" + Version()
}

type headerTransport struct {
	base   http.RoundTripper
	header http.Header
}

// RoundTrip implements http.RoundTripper. The caller's request is cloned and
// left unmodified.
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, vs := range t.header {
		req.Header[k] = vs
	}
	return t.base.RoundTrip(req)
}

// HTTPClient returns the client used for outbound calls like notification
// webhooks. Requests carry the Wattlog user agent.
func HTTPClient(timeout time.Duration) *http.Client {
	h := http.Header{}
	h.Set("User-Agent", UserAgent())
	return &http.Client{
		Transport: &headerTransport{base: http.DefaultTransport, header: h},
		Timeout:   timeout,
	}
}
