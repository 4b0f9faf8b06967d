package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/cesargomez89/stripedl/internal/constants"
)

// ErrIdleTimeout is returned by stream reads that made no progress in time.
var ErrIdleTimeout = errors.New("stream read timed out")

// Options configures a Client. Zero values use the package defaults.
type Options struct {
	Name               string
	Timeout            time.Duration // per API request
	ReadTimeout        time.Duration // max idle time between stream reads
	MinRequestInterval time.Duration
	RetryMax           int
	Jar                http.CookieJar
}

// Client issues provider API calls through retries, a circuit breaker and a
// rate limiter, and opens raw audio streams without retries.
type Client struct {
	retry       *retryablehttp.Client
	breaker     *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	stream      *http.Client
	readTimeout time.Duration
}

// NewClient creates a new rate-limited, retrying HTTP client.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = constants.DefaultHTTPTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = constants.DefaultRequestTimeout
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = constants.DefaultRetryCount
	}
	if opts.Name == "" {
		opts.Name = "provider-api"
	}
	if opts.Jar == nil {
		opts.Jar, _ = cookiejar.New(nil)
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: opts.ReadTimeout,
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Timeout: opts.Timeout, Transport: transport, Jar: opts.Jar}
	client.RetryMax = opts.RetryMax
	client.RetryWaitMin = constants.DefaultRetryWaitMin
	client.RetryWaitMax = constants.DefaultRetryWaitMax
	client.Logger = nil

	settings := gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	limit := rate.Inf
	if opts.MinRequestInterval > 0 {
		limit = rate.Every(opts.MinRequestInterval)
	}

	return &Client{
		retry:   client,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(limit, 1),
		// no overall timeout: a track download may take minutes, idleness is
		// bounded per read instead
		stream:      &http.Client{Transport: transport, Jar: opts.Jar},
		readTimeout: opts.ReadTimeout,
	}
}

// Do executes an API request. Server errors count against the circuit breaker
// and are returned as errors after the retries are exhausted.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	rreq, err := retryablehttp.FromRequest(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to wrap request: %w", err)
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.retry.Do(rreq)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close()
			return nil, fmt.Errorf("server error: %s", resp.Status)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*http.Response), nil
}

// Get is a convenience wrapper around Do.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// OpenStream starts a GET for raw bytes. The returned reader fails with
// ErrIdleTimeout when no data arrives within the read timeout, and stops as
// soon as ctx is cancelled.
func (c *Client) OpenStream(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, 0, err
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, 0, fmt.Errorf("unexpected stream status: %s", resp.Status)
	}

	return newIdleReader(resp.Body, cancel, c.readTimeout), resp.ContentLength, nil
}

// idleReader cancels the underlying request when a single read stalls. The
// timer only runs inside Read, so a caller that stops reading (a paused
// download) does not lose the connection.
type idleReader struct {
	body    io.ReadCloser
	cancel  context.CancelFunc
	timer   *time.Timer
	timeout time.Duration

	mu       sync.Mutex
	timedOut bool
}

func newIdleReader(body io.ReadCloser, cancel context.CancelFunc, timeout time.Duration) *idleReader {
	r := &idleReader{body: body, cancel: cancel, timeout: timeout}
	r.timer = time.AfterFunc(timeout, func() {
		r.mu.Lock()
		r.timedOut = true
		r.mu.Unlock()
		cancel()
	})
	r.timer.Stop()
	return r
}

func (r *idleReader) Read(p []byte) (int, error) {
	r.timer.Reset(r.timeout)
	n, err := r.body.Read(p)
	r.timer.Stop()
	if err != nil && err != io.EOF {
		r.mu.Lock()
		timedOut := r.timedOut
		r.mu.Unlock()
		if timedOut {
			return n, ErrIdleTimeout
		}
	}
	return n, err
}

func (r *idleReader) Close() error {
	r.timer.Stop()
	err := r.body.Close()
	r.cancel()
	return err
}
