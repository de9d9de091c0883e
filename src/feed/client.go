// Package feed polls a chart API for the bars of the active universe and
// hands them to the ingest pipeline.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"screener-engine/src/helpers"
	"screener-engine/src/logger"
)

const defaultRetryDelay = time.Second

// -----------------------------------------------------------------------------
// Proxy rotation
// -----------------------------------------------------------------------------

type proxyRotator struct {
	mu      sync.Mutex
	proxies []*url.URL
	index   int
}

func newProxyRotator(proxies []string, log *logger.Logger) *proxyRotator {
	r := &proxyRotator{}
	for _, p := range proxies {
		if !strings.Contains(p, "://") {
			p = "http://" + p
		}
		u, err := url.Parse(p)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "socks5") {
			log.Warning("Ignoring invalid proxy %q", p)
			continue
		}
		r.proxies = append(r.proxies, u)
	}
	return r
}

// proxy is an http.Transport Proxy func.
func (r *proxyRotator) proxy(*http.Request) (*url.URL, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.proxies) == 0 {
		return nil, nil
	}
	return r.proxies[r.index], nil
}

func (r *proxyRotator) rotate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.proxies) > 1 {
		r.index = (r.index + 1) % len(r.proxies)
	}
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// Client performs GET requests with retries, rotating proxies when the
// upstream blocks or fails.
type Client struct {
	HTTP       *http.Client
	UserAgent  string
	MaxRetries int
	RetryDelay time.Duration
	Logger     *logger.Logger

	proxies *proxyRotator
}

// -----------------------------------------------------------------------------

func NewClient(timeout time.Duration, maxRetries int, userAgent string, proxies []string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewLogger(nil, "FeedClient")
	}
	rotator := newProxyRotator(proxies, log)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = rotator.proxy

	return &Client{
		HTTP:       &http.Client{Transport: transport, Timeout: timeout},
		UserAgent:  userAgent,
		MaxRetries: maxRetries,
		RetryDelay: defaultRetryDelay,
		Logger:     log,
		proxies:    rotator,
	}
}

// -----------------------------------------------------------------------------

// Get fetches rawURL with params. A 404 is reported as helpers.ErrNotFound
// and is not retried.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	reqURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := reqURL.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	reqURL.RawQuery = q.Encode()

	var body []byte
	attempt := 0
	err = helpers.RetryWithBackoff(ctx, c.Logger, "GET "+reqURL.Path, c.MaxRetries+1, c.RetryDelay, func() error {
		if attempt > 0 {
			c.proxies.rotate()
		}
		attempt++

		var ferr error
		body, ferr = c.fetch(ctx, reqURL.String())
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", reqURL.Path, err)
	}
	return body, nil
}

// -----------------------------------------------------------------------------

func (c *Client) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, helpers.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("blocked (status %d)", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("bad status: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
