package xhttp

import (
	"fmt"
	"net/http"

	"github.com/garrettladley/hookd/internal/version"
)

type hookdTransport struct {
	base http.RoundTripper
}

var _ http.RoundTripper = (*hookdTransport)(nil)

func (t *hookdTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set(UserAgent, "hookd/"+version.Get())
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform round trip: %w", err)
	}
	return resp, nil
}

// NewTransport returns an http.RoundTripper that identifies hookd tooling.
func NewTransport() http.RoundTripper {
	return &hookdTransport{base: http.DefaultTransport}
}
