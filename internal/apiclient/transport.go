package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/net/proxy"
)

// NewTransport returns an HTTP transport, dialing through the SOCKS5
// proxy at proxyAddr when it is not empty.
func NewTransport(proxyAddr string) (*http.Transport, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if proxyAddr == "" {
		return transport, nil
	}

	proxyURL := &url.URL{Scheme: "socks5h", Host: proxyAddr}
	if u, err := url.Parse(proxyAddr); err == nil && u.Host != "" {
		proxyURL = u
	}

	dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	transport.Proxy = nil
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}
	return transport, nil
}

// ErrCircuitOpen is returned while the breaker rejects requests.
var ErrCircuitOpen = errors.New("api unavailable, circuit open")

// errServer marks a 5xx response as a breaker failure.
var errServer = errors.New("server error")

// BreakerTransport stops sending requests for a while after the API kept
// failing. Transport errors and 5xx responses count as failures.
type BreakerTransport struct {
	next http.RoundTripper
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerTransport(next http.RoundTripper, onStateChange func(from, to string)) *BreakerTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	settings := gobreaker.Settings{
		Name:        "bmr-api",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	}
	if onStateChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			onStateChange(from.String(), to.String())
		}
	}
	return &BreakerTransport{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	_, err := b.cb.Execute(func() (interface{}, error) {
		r, err := b.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		resp = r
		if r.StatusCode >= 500 {
			return nil, errServer
		}
		return nil, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, ErrCircuitOpen
	case errors.Is(err, errServer):
		return resp, nil
	case err != nil:
		return nil, err
	}
	return resp, nil
}

// State reports the breaker state: closed, half-open or open.
func (b *BreakerTransport) State() string {
	return b.cb.State().String()
}
