package safehttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// Options configures the outbound transport shared by every poll session.
type Options struct {
	// Timeout bounds a single request, including reading the body.
	Timeout time.Duration

	// RateLimit caps outbound requests per second. Zero disables limiting.
	RateLimit float64
	RateBurst int

	// DenyPrivateNetworks rejects connections to loopback or private IPs.
	DenyPrivateNetworks bool
}

// SafeDialContext rejects connections to private or loopback IP ranges to reduce SSRF risk.
func SafeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	ip := net.ParseIP(host)
	if ip == nil {
		conn.Close()
		return nil, fmt.Errorf("failed to parse remote IP for %q", addr)
	}

	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
		conn.Close()
		return nil, fmt.Errorf("access to private IP %s is denied", ip)
	}

	return conn, nil
}

// NewClient returns an HTTP client that is safe for concurrent use by many
// poll sessions. Connection pooling is left to http.Transport.
func NewClient(opts Options) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if opts.DenyPrivateNetworks {
		base.DialContext = SafeDialContext
	}

	var rt http.RoundTripper = base
	if opts.RateLimit > 0 {
		rt = NewRateLimitedTransport(rt, opts.RateLimit, opts.RateBurst)
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(rt),
		Timeout:   opts.Timeout,
	}
}

// RateLimitedTransport delays requests so the platform sees at most the
// configured rate across all sessions.
type RateLimitedTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

// NewRateLimitedTransport wraps next with a token bucket limiter.
func NewRateLimitedTransport(next http.RoundTripper, perSecond float64, burst int) *RateLimitedTransport {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedTransport{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// RoundTrip waits for a token, honoring the request context, then forwards.
func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return t.next.RoundTrip(req)
}
