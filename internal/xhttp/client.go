package xhttp

import (
	"net/http"
	"time"
)

const defaultClientTimeout = 30 * time.Second

type ClientOption func(*http.Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *http.Client) { c.Timeout = d }
}

// NewHTTPClient returns a client that identifies itself as hookd and, unlike
// http.DefaultClient, always has a timeout.
func NewHTTPClient(opts ...ClientOption) *http.Client {
	c := &http.Client{
		Transport: NewTransport(),
		Timeout:   defaultClientTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
