// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
	"github.com/JakeFAU/catalog-harvester/internal/useragent"
)

// DefaultTimeout bounds a single attempt.
const DefaultTimeout = 15 * time.Second

const maxRedirects = 10

// Config controls collector behavior.
type Config struct {
	// UserAgent is the client's identity. A random desktop agent is picked
	// once when empty.
	UserAgent string
	Timeout   time.Duration
}

// Client implements crawler.Fetcher using a fresh Colly collector per attempt.
type Client struct {
	cfg     Config
	headers http.Header
	policy  crawler.RetryPolicy
	logger  *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client. A nil policy falls back to the default fixed policy.
func New(cfg Config, policy crawler.RetryPolicy, logger *zap.Logger) *Client {
	cfg.UserAgent = useragent.Or(cfg.UserAgent)
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if policy == nil {
		policy = crawler.NewFixedRetryPolicy(crawler.DefaultMaxAttempts, crawler.DefaultRetryDelay)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	headers := http.Header{}
	headers.Set("User-Agent", cfg.UserAgent)
	return &Client{
		cfg:     cfg,
		headers: headers,
		policy:  policy,
		logger:  logger,
	}
}

// UserAgent returns the identity sent with default headers.
func (c *Client) UserAgent() string {
	return c.cfg.UserAgent
}

// Fetch performs one logical request, retrying transient failures.
func (c *Client) Fetch(ctx context.Context, request crawler.Request) (crawler.Result, error) {
	method := strings.ToUpper(strings.TrimSpace(request.Method))
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return crawler.Result{}, fmt.Errorf("%w: %q", crawler.ErrUnsupportedMethod, request.Method)
	}
	target, err := withParams(request.URL, request.Params)
	if err != nil {
		return crawler.Result{}, err
	}
	headers := c.headersFor(request)

	for attempt := 1; ; attempt++ {
		result, err := c.attempt(method, target, headers, request.Body)
		if err == nil {
			c.observe(target, method, result)
			return result, nil
		}
		if c.policy.ShouldRetry(err, attempt) {
			metrics.ObserveRetry(target)
			backoff := c.policy.Backoff(attempt)
			c.logger.Debug("retrying request",
				zap.String("url", target),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			if err := wait(ctx, backoff); err != nil {
				return crawler.Result{}, fmt.Errorf("fetch %s canceled: %w", target, err)
			}
			continue
		}
		switch {
		case crawler.IsTransient(err):
			metrics.ObserveFetch(target, method, "transient", 0)
			return crawler.Result{}, fmt.Errorf("%w: %s after %d attempts: %w", crawler.ErrTransient, target, attempt, err)
		case isReadError(err):
			c.logger.Warn("response read failed",
				zap.String("url", target),
				zap.Error(err),
			)
			result := crawler.Result{Outcome: crawler.OutcomeUnavailable, Reason: err.Error()}
			c.observe(target, method, result)
			return result, nil
		default:
			metrics.ObserveFetch(target, method, "error", 0)
			return crawler.Result{}, fmt.Errorf("fetch %s: %w", target, err)
		}
	}
}

func (c *Client) attempt(method, target string, headers http.Header, body url.Values) (crawler.Result, error) {
	var (
		response *colly.Response
		fetchErr error
	)
	collector := c.buildCollector(method, headers)
	transport := newHTTPTransport()
	collector.WithTransport(transport)
	defer transport.CloseIdleConnections()
	configureCollectorHooks(collector, &response, &fetchErr)

	hdr := headers.Clone()
	var reader io.Reader
	if method == http.MethodPost && len(body) > 0 {
		reader = strings.NewReader(body.Encode())
		if hdr.Get("Content-Type") == "" {
			hdr.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}

	if err := collector.Request(method, target, reader, nil, hdr); err != nil {
		if response != nil && response.StatusCode != 0 {
			return classify(target, response)
		}
		return crawler.Result{}, fmt.Errorf("colly request failed: %w", err)
	}
	if fetchErr != nil {
		return crawler.Result{}, fmt.Errorf("colly response failed: %w", fetchErr)
	}
	if response == nil {
		return crawler.Result{}, errors.New("colly produced no response")
	}
	return classify(target, response)
}

func (c *Client) buildCollector(method string, headers http.Header) *colly.Collector {
	collector := colly.NewCollector(colly.Async(false))
	// Colly fills in its own agent when the header is absent, so mirror the
	// caller's value even when it is empty.
	collector.UserAgent = headers.Get("User-Agent")
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	// Colly truncates bodies at 10 MiB by default; zero lifts the cap.
	collector.MaxBodySize = 0
	collector.SetRequestTimeout(c.cfg.Timeout)
	collector.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if method == http.MethodPost {
			return http.ErrUseLastResponse
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	})
	return collector
}

func configureCollectorHooks(hooks collectorHooks, response **colly.Response, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*response = r
	})
	hooks.OnError(func(r *colly.Response, err error) {
		// With ParseHTTPErrorResponse set, status failures still reach
		// OnResponse; only transport failures are kept here.
		if r != nil && r.StatusCode != 0 && *response == nil {
			*response = r
			return
		}
		*fetchErr = err
	})
}

func (c *Client) headersFor(request crawler.Request) http.Header {
	if request.Headers != nil {
		return request.Headers.Clone()
	}
	return c.headers.Clone()
}

func (c *Client) observe(target, method string, result crawler.Result) {
	size := 0
	if result.Response != nil {
		size = len(result.Response.Body)
	}
	metrics.ObserveFetch(target, method, result.Outcome.String(), size)
}

func classify(target string, r *colly.Response) (crawler.Result, error) {
	switch code := r.StatusCode; {
	case code == http.StatusBadRequest || code == http.StatusNotFound || code == http.StatusBadGateway:
		return crawler.Result{
			Outcome:    crawler.OutcomeUnavailable,
			StatusCode: code,
			Reason:     fmt.Sprintf("response with %d in %s", code, target),
		}, nil
	case code >= 200 && code < 300:
		finalURL := target
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		return crawler.Result{
			Outcome:    crawler.OutcomeOK,
			StatusCode: code,
			Response: &crawler.Response{
				URL:        finalURL,
				StatusCode: code,
				Headers:    headers,
				Body:       append([]byte(nil), r.Body...),
			},
		}, nil
	default:
		return crawler.Result{}, &crawler.StatusError{URL: target, StatusCode: code}
	}
}

func withParams(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse request url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("parse request url: unsupported scheme %q", u.Scheme)
	}
	if len(params) > 0 {
		q := u.Query()
		for key, values := range params {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// isReadError matches failures that happen after the connection was
// established and are not timeouts.
func isReadError(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "read"
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     true,
	}
}
