package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/vbonduro/critterkeep/internal/apperr"
)

const (
	DefaultRequestTimeout  = 30 * time.Second
	DefaultResourceTimeout = 60 * time.Second
	DefaultMaxRetries      = 3
	DefaultBackoffBase     = time.Second

	maxBodyBytes = 32 << 20
)

// Config configures a Client. Zero durations fall back to the defaults above;
// a zero RequestsPerSecond disables client-side rate limiting.
type Config struct {
	BaseURL           string
	RequestTimeout    time.Duration
	ResourceTimeout   time.Duration
	MaxRetries        int
	BackoffBase       time.Duration
	RequestsPerSecond float64
	UserAgent         string
}

// Request describes one catalog call. URL may be absolute (image downloads)
// or a path relative to the configured base URL.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	Body   any
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client talks to the remote catalog. It retries transient failures with
// exponential backoff and classifies the final outcome into apperr kinds.
type Client struct {
	baseURL     *url.URL
	http        *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	backoffBase time.Duration
	maxBody     int64
	userAgent   string
	logger      *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperr.Newf(apperr.KindInvalidRequest, "new catalog client", "invalid base url %q", cfg.BaseURL)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ResourceTimeout <= 0 {
		cfg.ResourceTimeout = DefaultResourceTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.RequestTimeout

	c := &Client{
		baseURL: base,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.ResourceTimeout,
		},
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		maxBody:     maxBodyBytes,
		userAgent:   cfg.UserAgent,
		logger:      logger,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// Execute performs req, retrying retryable statuses and transient network
// errors up to MaxRetries more times. Caller cancellation, including during
// a backoff sleep, returns the context's error.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	const op = "catalog request"
	if req == nil {
		return nil, apperr.Newf(apperr.KindInvalidRequest, op, "request is required")
	}
	target, err := c.resolve(req)
	if err != nil {
		return nil, err
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var payload []byte
	if req.Body != nil {
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, apperr.New(apperr.KindInvalidRequest, op, fmt.Errorf("failed to marshal request: %w", err))
		}
	}

	backoff := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewExponential(c.backoffBase))

	var resp *Response
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return ctxErrOr(ctx, err)
			}
		}

		r, err := c.do(ctx, method, target, req.Header, payload)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var appErr *apperr.Error
			if errors.As(err, &appErr) {
				return appErr
			}
			netErr := apperr.New(apperr.KindTransientNetwork, op, err)
			if isTransient(err) {
				c.logger.Warn("catalog request failed, retrying", "url", target, "attempt", attempt, "error", err)
				return retry.RetryableError(netErr)
			}
			return netErr
		}

		if r.Status < 200 || r.Status > 299 {
			statusErr := apperr.FromStatus(op, r.Status)
			if apperr.IsRetryableStatus(r.Status) {
				c.logger.Warn("catalog returned retryable status", "url", target, "attempt", attempt, "status", r.Status)
				return retry.RetryableError(statusErr)
			}
			return statusErr
		}

		resp = r
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Debug("catalog request gave up", "url", target, "attempts", attempt, "error", err)
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, target string, header http.Header, payload []byte) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	for k, vs := range header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Error("failed to close response body", "error", err)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, apperr.Newf(apperr.KindLimitExceeded, "catalog request", "response from %s is larger than %d bytes", target, c.maxBody)
	}

	return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

func (c *Client) resolve(req *Request) (string, error) {
	const op = "catalog request"
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return "", apperr.Newf(apperr.KindInvalidRequest, op, "url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", apperr.New(apperr.KindInvalidRequest, op, fmt.Errorf("failed to parse url: %w", err))
	}
	if !u.IsAbs() {
		rawQuery := u.RawQuery
		u = c.baseURL.JoinPath(u.Path)
		u.RawQuery = rawQuery
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apperr.Newf(apperr.KindInvalidRequest, op, "unsupported scheme %q", u.Scheme)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// isTransient reports whether a transport error is worth another attempt.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func ctxErrOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
