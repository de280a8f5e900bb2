// Package fetch provides the rate-limited HTTP transport used to download
// candidate payloads and probe their freshness.
package fetch

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/x/configurl"
	"golang.org/x/time/rate"
)

// Options contains all the configuration options of a Client
type Options struct {
	// Transport config string. Empty dials direct TCP
	Transport string
	// User-Agent header (default: "sub-hunter/1.0")
	UserAgent string
	// Raw HTTP headers to add (without \r\n)
	Headers []string
	// Timeout in seconds per attempt (default: 10)
	TimeoutSec int
	// Bodies are truncated to this size (default: 256 KiB)
	MaxBodyBytes int64
	// Retries after the first attempt (default: 5)
	MaxRetries int
	// Upper bound of any backoff wait in seconds (default: 60)
	MaxBackoffSec int
	// Per-host token buckets. The first matching entry wins
	Limits []HostLimit
}

// HostLimit is a token bucket for hosts containing Match. An empty Match
// applies to every host.
type HostLimit struct {
	Match     string
	PerMinute float64
	Burst     int
}

var DefaultLimits = []HostLimit{
	{Match: "github", PerMinute: 900, Burst: 10},
	{Match: "gitlab", PerMinute: 600, Burst: 8},
	{Match: "gitee", PerMinute: 300, Burst: 6},
	{Match: "", PerMinute: 120, Burst: 4},
}

// Result contains the response of a request
type Result struct {
	// HTTP response. The body has already been read and closed
	Response *http.Response
	// Response body as bytes, possibly truncated
	Body []byte
	// Body was cut at MaxBodyBytes
	Truncated bool
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.Code)
}

type Client struct {
	opts     Options
	header   http.Header
	client   *http.Client
	insecure *http.Client
	logger   *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = "sub-hunter/1.0"
	}
	if opts.TimeoutSec <= 0 {
		opts.TimeoutSec = 10
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 256 * 1024
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxBackoffSec <= 0 {
		opts.MaxBackoffSec = 60
	}
	if len(opts.Limits) == 0 {
		opts.Limits = DefaultLimits
	}
	if logger == nil {
		logger = slog.Default()
	}

	header, err := parseHeaders(opts.Headers)
	if err != nil {
		return nil, err
	}

	dialer, err := configurl.NewDefaultConfigToDialer().NewStreamDialer(opts.Transport)
	if err != nil {
		return nil, fmt.Errorf("could not create dialer: %w", err)
	}
	dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !strings.HasPrefix(network, "tcp") {
			return nil, fmt.Errorf("protocol not supported: %v", network)
		}
		return dialer.DialStream(ctx, addr)
	}

	timeout := time.Duration(opts.TimeoutSec) * time.Second
	return &Client{
		opts:   opts,
		header: header,
		client: &http.Client{
			Transport: &http.Transport{DialContext: dialContext, TLSHandshakeTimeout: timeout},
			Timeout:   timeout,
		},
		insecure: &http.Client{
			Transport: &http.Transport{
				DialContext:         dialContext,
				TLSHandshakeTimeout: timeout,
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
			},
			Timeout: timeout,
		},
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
		sleep:    sleepContext,
		now:      time.Now,
	}, nil
}

func parseHeaders(lines []string) (http.Header, error) {
	if len(lines) == 0 {
		return http.Header{}, nil
	}
	headerText := strings.Join(lines, "\r\n") + "\r\n\r\n"
	h, err := textproto.NewReader(bufio.NewReader(strings.NewReader(headerText))).ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("invalid header line: %w", err)
	}
	return http.Header(h), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[host]; ok {
		return l
	}
	limit := HostLimit{PerMinute: 120, Burst: 4}
	for _, hl := range c.opts.Limits {
		if hl.Match == "" || strings.Contains(host, hl.Match) {
			limit = hl
			break
		}
	}
	l := rate.NewLimiter(rate.Limit(limit.PerMinute/60), max(limit.Burst, 1))
	c.limiters[host] = l
	return l
}

// Fetch GETs rawURL. A non-2xx response yields the result together with a
// *StatusError.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	res, err := c.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if res.Response.StatusCode < 200 || res.Response.StatusCode > 299 {
		return res, &StatusError{URL: rawURL, Code: res.Response.StatusCode}
	}
	return res, nil
}

// LastModified returns the Last-Modified time of rawURL, or the zero time
// when the server does not send one. Servers refusing HEAD are asked with
// a one-byte ranged GET.
func (c *Client) LastModified(ctx context.Context, rawURL string) (time.Time, error) {
	res, err := c.do(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return time.Time{}, err
	}
	switch res.Response.StatusCode {
	case http.StatusMethodNotAllowed, http.StatusForbidden, http.StatusNotImplemented:
		res, err = c.do(ctx, http.MethodGet, rawURL, http.Header{"Range": {"bytes=0-0"}})
		if err != nil {
			return time.Time{}, err
		}
	}
	code := res.Response.StatusCode
	if code < 200 || code > 299 {
		return time.Time{}, &StatusError{URL: rawURL, Code: code}
	}
	lm := res.Response.Header.Get("Last-Modified")
	if lm == "" {
		return time.Time{}, nil
	}
	t, err := http.ParseTime(lm)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid Last-Modified %q: %w", lm, err)
	}
	return t, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, extra http.Header) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	client := c.client
	relaxed := false

	for attempt := 0; ; attempt++ {
		if err := c.limiter(host).Wait(ctx); err != nil {
			return nil, err
		}

		res, err := c.once(ctx, client, method, rawURL, extra)
		if err != nil {
			if !relaxed && isCertError(err) {
				relaxed = true
				client = c.insecure
				c.logger.Warn("Certificate verification failed, retrying without it", "url", rawURL, "error", err)
				attempt--
				continue
			}
			if ctx.Err() != nil || attempt >= c.opts.MaxRetries {
				return nil, fmt.Errorf("HTTP request failed: %w", err)
			}
			wait := c.backoff(attempt)
			c.logger.Debug("Request failed, backing off", "url", rawURL, "attempt", attempt+1, "wait", wait, "error", err)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if attempt < c.opts.MaxRetries && retryable(res.Response) {
			wait := c.retryDelay(res.Response.Header, attempt)
			c.logger.Debug("Rate limited, backing off", "url", rawURL, "status", res.Response.StatusCode, "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}
		return res, nil
	}
}

func (c *Client) once(ctx context.Context, client *http.Client, method, rawURL string, extra http.Header) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for name, values := range c.header {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
	for name, values := range extra {
		req.Header[name] = values
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read of page body failed: %w", err)
	}
	truncated := int64(len(body)) > c.opts.MaxBodyBytes
	if truncated {
		body = body[:c.opts.MaxBodyBytes]
		c.logger.Debug("Body truncated", "url", rawURL, "limit", c.opts.MaxBodyBytes)
	}
	return &Result{Response: resp, Body: body, Truncated: truncated}, nil
}

func retryable(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	case http.StatusForbidden:
		return resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != ""
	}
	return false
}

func (c *Client) maxBackoff() time.Duration {
	return time.Duration(c.opts.MaxBackoffSec) * time.Second
}

// backoff doubles from one second, capped at MaxBackoffSec.
func (c *Client) backoff(attempt int) time.Duration {
	d := time.Second << min(attempt, 16)
	return min(d, c.maxBackoff())
}

// retryDelay honors Retry-After (seconds or HTTP date) and
// X-RateLimit-Reset (unix seconds) before falling back to backoff.
func (c *Client) retryDelay(h http.Header, attempt int) time.Duration {
	if ra := strings.TrimSpace(h.Get("Retry-After")); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			return min(time.Duration(max(secs, 0))*time.Second, c.maxBackoff())
		}
		if t, err := http.ParseTime(ra); err == nil {
			return min(max(t.Sub(c.now()), 0), c.maxBackoff())
		}
	}
	if reset := strings.TrimSpace(h.Get("X-RateLimit-Reset")); reset != "" {
		if unix, err := strconv.ParseInt(reset, 10, 64); err == nil {
			return min(max(time.Unix(unix, 0).Sub(c.now()), 0), c.maxBackoff())
		}
	}
	return c.backoff(attempt)
}

func isCertError(err error) bool {
	var (
		unknown  x509.UnknownAuthorityError
		hostname x509.HostnameError
		invalid  x509.CertificateInvalidError
		verify   *tls.CertificateVerificationError
	)
	return errors.As(err, &unknown) || errors.As(err, &hostname) ||
		errors.As(err, &invalid) || errors.As(err, &verify)
}
