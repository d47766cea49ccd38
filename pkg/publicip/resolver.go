// Package publicip discovers the public address of the machine running amify,
// used to restrict SSH access to the temporary builder instance.
package publicip

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"resty.dev/v3"
)

// DefaultEndpoint returns the caller's address as plain text.
const DefaultEndpoint = "https://checkip.amazonaws.com"

// Resolver looks up the public IP address.
type Resolver struct {
	client   *resty.Client
	endpoint string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithEndpoint overrides the lookup URL.
func WithEndpoint(url string) Option {
	return func(r *Resolver) {
		r.endpoint = url
	}
}

// WithRetries sets how many times a failed lookup is retried.
func WithRetries(n int) Option {
	return func(r *Resolver) {
		r.client.SetRetryCount(n)
	}
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		SetHeader("User-Agent", "amify").
		AddRetryConditions(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})

	r := &Resolver{client: client, endpoint: DefaultEndpoint}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Close releases the underlying HTTP client.
func (r *Resolver) Close() error {
	return r.client.Close()
}

// Lookup returns the public IP address.
func (r *Resolver) Lookup(ctx context.Context) (net.IP, error) {
	resp, err := r.client.R().SetContext(ctx).Get(r.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to look up public IP: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to look up public IP: %s returned HTTP %d", r.endpoint, resp.StatusCode())
	}

	body := strings.TrimSpace(resp.String())
	ip := net.ParseIP(body)
	if ip == nil {
		return nil, fmt.Errorf("failed to look up public IP: unexpected response %q", truncate(body, 64))
	}
	return ip, nil
}

// CIDR returns the public address as a single-host CIDR block.
func (r *Resolver) CIDR(ctx context.Context) (string, error) {
	ip, err := r.Lookup(ctx)
	if err != nil {
		return "", err
	}
	return HostCIDR(ip), nil
}

// HostCIDR returns ip as a /32 (IPv4) or /128 (IPv6) block.
func HostCIDR(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		return v4.String() + "/32"
	}
	return ip.String() + "/128"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
