// Package fetch opens Packages indexes from local files or HTTP mirrors, with
// retry, per-host circuit breaking and transparent decompression.
package fetch

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"
	"github.com/ulikunitz/xz"

	"github.com/etnz/debstore/events"
)

var (
	ErrNotFound     = errors.New("source not found")
	ErrRateLimited  = errors.New("rate limited by mirror")
	ErrUpstreamDown = errors.New("mirror unavailable")
)

// Fetcher opens sources.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries uint64
	baseDelay  time.Duration
	listener   events.Listener

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMaxRetries sets how many times a failed request is retried.
func WithMaxRetries(n uint64) Option {
	return func(f *Fetcher) {
		f.maxRetries = n
	}
}

// WithBaseDelay sets the first retry delay. Later delays grow exponentially.
func WithBaseDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		f.baseDelay = d
	}
}

// WithListener sets the listener notified of retries.
func WithListener(l events.Listener) Option {
	return func(f *Fetcher) {
		f.listener = l
	}
}

// NewFetcher creates a Fetcher. Its HTTP client resolves hosts through a DNS
// cache kept for the life of the process.
func NewFetcher(opts ...Option) *Fetcher {
	resolver := &dnscache.Resolver{}
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	f := &Fetcher{
		client: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					host, port, err := net.SplitHostPort(addr)
					if err != nil {
						return nil, err
					}
					ips, err := resolver.LookupHost(ctx, host)
					if err != nil {
						return nil, err
					}
					for _, ip := range ips {
						conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
						if err == nil {
							return conn, nil
						}
					}
					return nil, fmt.Errorf("failed to dial any resolved IP of %s", host)
				},
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		userAgent:  "debstore/1.0",
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		breakers:   make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open returns the content of location, decompressed when its name ends in
// .gz or .xz. Locations with an http or https scheme are downloaded, file URLs
// and plain paths are read from disk. The caller must close the result.
func (f *Fetcher) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	var (
		body io.ReadCloser
		name string
		err  error
	)
	u, perr := url.Parse(location)
	switch {
	case perr == nil && (u.Scheme == "http" || u.Scheme == "https"):
		name = u.Path
		body, err = f.get(ctx, location, u.Host)
	case perr == nil && u.Scheme == "file":
		name = u.Path
		body, err = os.Open(u.Path)
	default:
		name = location
		body, err = os.Open(location)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", location, err)
	}
	return decompress(body, name)
}

// Open is a shortcut for NewFetcher().Open.
func Open(ctx context.Context, location string) (io.ReadCloser, error) {
	return NewFetcher().Open(ctx, location)
}

type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func decompress(body io.ReadCloser, name string) (io.ReadCloser, error) {
	switch path.Ext(name) {
	case ".gz":
		zr, err := gzip.NewReader(body)
		if err != nil {
			_ = body.Close()
			return nil, fmt.Errorf("reading gzip stream %s: %w", name, err)
		}
		return &stackedReader{Reader: zr, closers: []io.Closer{zr, body}}, nil
	case ".xz":
		xr, err := xz.NewReader(body)
		if err != nil {
			_ = body.Close()
			return nil, fmt.Errorf("reading xz stream %s: %w", name, err)
		}
		return &stackedReader{Reader: xr, closers: []io.Closer{body}}, nil
	default:
		return body, nil
	}
}

func (f *Fetcher) breaker(host string) *circuit.Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.breakers[host]; ok {
		return b
	}
	// trips after 5 consecutive failures
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()
	b := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	f.breakers[host] = b
	return b
}

func (f *Fetcher) get(ctx context.Context, location, host string) (io.ReadCloser, error) {
	b := f.breaker(host)
	if !b.Ready() {
		return nil, fmt.Errorf("circuit breaker open for %s: %w", host, ErrUpstreamDown)
	}

	var body io.ReadCloser
	err := b.Call(func() error {
		var err error
		body, err = f.retry(ctx, location)
		if errors.Is(err, ErrNotFound) {
			// the mirror answered
			return nil
		}
		return err
	}, 0)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, ErrNotFound
	}
	return body, nil
}

func (f *Fetcher) retry(ctx context.Context, location string) (io.ReadCloser, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.baseDelay
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, f.maxRetries), ctx)

	var body io.ReadCloser
	op := func() error {
		var err error
		body, err = f.do(ctx, location)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamDown) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, _ time.Duration) {
		f.listener.Emit(events.EventFetchRetry{Location: location, Error: err.Error()})
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) do(ctx context.Context, location string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching: %w: %w", ErrUpstreamDown, err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		_ = resp.Body.Close()
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamDown, resp.StatusCode)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}
