// SPDX-License-Identifier: MIT

// Package netbridge rewrites loopback hostnames on outbound requests so a
// containerized deployment can still reach services bound to the host's
// loopback interface. The original authority is preserved in the Host header
// because presigned URLs are signed against it.
package netbridge

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/capso/media-server/internal/log"
)

// Bridge applies the loopback rewrite to outbound HTTP requests.
type Bridge struct {
	enabled   bool
	hostAlias string
	client    *http.Client
}

// New builds a bridge. The rewrite only activates when the process runs
// inside a container.
func New(hostAlias string) *Bridge {
	enabled := inContainer()
	if enabled {
		logger := log.WithComponent("netbridge")
		logger.Info().
			Str("host_alias", hostAlias).
			Msg("container detected, loopback hostnames will be rewritten")
	}
	return &Bridge{
		enabled:   enabled,
		hostAlias: hostAlias,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          32,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: time.Second,
			},
		},
	}
}

// inContainer reports whether the process appears to run inside a container.
// MEDIA_IN_CONTAINER overrides the marker-file heuristics either way.
func inContainer() bool {
	if v, ok := os.LookupEnv("MEDIA_IN_CONTAINER"); ok {
		return v == "1" || v == "true"
	}
	for _, marker := range []string{"/.dockerenv", "/run/.containerenv"} {
		if _, err := os.Stat(marker); err == nil {
			return true
		}
	}
	return false
}

// Enabled reports whether loopback rewriting is active.
func (b *Bridge) Enabled() bool { return b.enabled }

func isLoopbackHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Rewrite returns the host-reachable URL plus the Host header to carry.
// When no rewrite applies, the URL is returned unchanged with an empty host
// header.
func (b *Bridge) Rewrite(raw string) (rewritten, hostHeader string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if !b.enabled || !isLoopbackHost(u.Hostname()) {
		return raw, "", nil
	}

	original := u.Host
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(b.hostAlias, port)
	} else {
		u.Host = b.hostAlias
	}
	return u.String(), original, nil
}

// NewRequest builds an outbound request with the rewrite applied.
func (b *Bridge) NewRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	target, hostHeader, err := b.Rewrite(rawURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if hostHeader != "" {
		req.Host = hostHeader
	}
	return req, nil
}

// Do executes the request on the shared outbound client.
func (b *Bridge) Do(req *http.Request) (*http.Response, error) {
	return b.client.Do(req)
}
