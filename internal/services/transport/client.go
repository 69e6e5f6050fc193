// Package transport builds the outbound HTTP client used for range requests.
package transport

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

type Config struct {
	// ResponseHeaderTimeout bounds the wait for upstream headers. Bodies
	// are streamed for as long as the consumer reads, so there is no
	// overall client timeout.
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration
	MaxIdleConnsPerHost   int
	// RequestsPerSecond throttles outbound requests; 0 disables throttling.
	RequestsPerSecond float64
	Burst             int
	ProxyURL          string
	UserAgent         string
}

func NewClient(cfg Config) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ForceAttemptHTTP2 = true
	if cfg.ResponseHeaderTimeout > 0 {
		base.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
	}
	if cfg.DialTimeout > 0 {
		base.DialContext = (&net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}).DialContext
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		base.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	base.Proxy = proxyFunc(cfg.ProxyURL)

	var rt http.RoundTripper = base
	if cfg.UserAgent != "" {
		rt = &userAgentTransport{agent: cfg.UserAgent, next: rt}
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		rt = &rateLimitedTransport{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst), next: rt}
	}
	return &http.Client{Transport: otelhttp.NewTransport(rt)}
}

func proxyFunc(raw string) func(*http.Request) (*url.URL, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return http.ProxyFromEnvironment
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		if err == nil {
			err = errors.New("missing scheme or host")
		}
		slog.Default().Warn("invalid upstream proxy url; proxy disabled", slog.String("error", err.Error()))
		return nil
	}
	return http.ProxyURL(parsed)
}

// rateLimitedTransport waits for a token before each request. A request
// whose context ends while waiting fails with the context's error.
type rateLimitedTransport struct {
	limiter *rate.Limiter
	next    http.RoundTripper
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}

type userAgentTransport struct {
	agent string
	next  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.agent)
	return t.next.RoundTrip(clone)
}
