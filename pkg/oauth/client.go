package oauth

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// Outbound call timeouts.
const (
	ControlPlaneTimeout  = 10 * time.Second
	KeySetTimeout        = 5 * time.Second
	TokenExchangeTimeout = 10 * time.Second
)

// NewHTTPClient returns an HTTP client whose requests are bounded by
// timeout. The client never retries; a failed call is terminal for the
// attempt that made it.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// clientOrDefault returns c, or a new client bounded by timeout when c is nil.
func clientOrDefault(c *http.Client, timeout time.Duration) *http.Client {
	if c != nil {
		return c
	}
	return NewHTTPClient(timeout)
}
