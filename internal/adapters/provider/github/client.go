// Package github is the GitHub REST v3 provider used by the refresh workers
package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	perr "curator/internal/platform/errors"
	"curator/internal/platform/logger"
	"curator/internal/services/refresh/domain"
)

const (
	baseURLDefault   = "https://api.github.com"
	defaultTimeout   = 10 * time.Second
	defaultUA        = "curator-worker"
	defaultMaxRetry  = 3
	defaultRetryBase = 500 * time.Millisecond
	defaultMaxPages  = 10
	perPage          = 100
)

// Options configures the Client
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration

	// Retry config for transient server and transport errors
	// rate limits are never retried here, the credential cools down instead
	MaxRetries int
	RetryBase  time.Duration

	// MaxPages caps list pagination
	MaxPages int
}

// Client is a minimal GitHub REST client authenticated per request
type Client struct {
	http *http.Client
	opts Options
	log  logger.Logger
	now  func() time.Time
}

// NewClient creates a new Client with sane defaults
func NewClient(o Options) *Client {
	if o.BaseURL == "" {
		o.BaseURL = baseURLDefault
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = defaultMaxRetry
	}
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}
	if o.MaxPages <= 0 {
		o.MaxPages = defaultMaxPages
	}
	return &Client{
		http: &http.Client{Timeout: o.Timeout},
		opts: o,
		log:  *logger.Named("github"),
		now:  time.Now,
	}
}

// Do issues a GET with the credential's token and maps failures onto coded errors
// pathOrURL is either an API path or an absolute URL taken from a Link header
func (c *Client) Do(ctx context.Context, pathOrURL string, cred domain.Credential) (*http.Response, error) {
	url := pathOrURL
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = c.opts.BaseURL + pathOrURL
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryBase
	b.MaxInterval = 30 * time.Second

	attempt := 0
	return backoff.Retry(ctx, func() (*http.Response, error) {
		attempt++
		return c.do(ctx, url, cred, attempt)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.opts.MaxRetries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn().Err(err).Str("credential", cred.ID).Dur("retry_in", next).Int("attempt", attempt).Msg("github transient error retrying")
		}),
	)
}

// do issues one request. Transport failures and 5xx come back retryable,
// everything else is wrapped permanent.
func (c *Client) do(ctx context.Context, url string, cred domain.Credential, attempt int) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(perr.Wrapf(err, perr.ErrorCodeConfiguration, "github new request failed"))
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if cred.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Secret)
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "github do failed")
	}

	rem, reset, retryAfter := parseRateHeaders(resp.Header)
	c.log.Debug().
		Str("url", url).
		Str("credential", cred.ID).
		Int("status", resp.StatusCode).
		Int("attempt", attempt).
		Dur("latency", c.now().Sub(start)).
		Int("rate_remaining", rem).
		Time("rate_reset", reset).
		Int("retry_after_s", retryAfter).
		Msg("github http response")

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode >= 500:
		_ = drainAndClose(resp.Body)
		return nil, statusErr(resp.StatusCode, perr.Newf(perr.ErrorCodeUnavailable, "github server error %d", resp.StatusCode))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		_ = resp.Body.Close()
		return nil, backoff.Permanent(c.classify(resp.StatusCode, rem, reset, retryAfter, string(body)))
	}
}

// classify maps a non retryable status onto the refresh error taxonomy
func (c *Client) classify(status, remaining int, reset time.Time, retryAfter int, body string) error {
	msg := fmt.Sprintf("github status %d: %s", status, firstLine(body))
	switch status {
	case http.StatusNotFound, http.StatusGone:
		return statusErr(status, perr.NotFoundf("%s", msg))
	case http.StatusUnauthorized:
		return statusErr(status, perr.Unauthorizedf("%s", msg))
	case http.StatusTooManyRequests:
		return c.rateLimited(status, remaining, reset, retryAfter, msg)
	case http.StatusForbidden:
		// primary limit reports remaining 0, secondary limits send Retry-After
		if (remaining == 0 && !reset.IsZero()) || retryAfter > 0 {
			return c.rateLimited(status, remaining, reset, retryAfter, msg)
		}
		return statusErr(status, perr.Forbiddenf("%s", msg))
	default:
		return statusErr(status, perr.Newf(perr.ErrorCodeUnknown, "%s", msg))
	}
}

func (c *Client) rateLimited(status, remaining int, reset time.Time, retryAfter int, msg string) error {
	until := reset
	if wait := computeWait(remaining, reset, retryAfter, c.now()); wait > 0 {
		until = c.now().Add(wait)
	}
	return &domain.RateLimitError{
		Reset: until,
		Err:   statusErr(status, perr.TooManyRequestsf("%s", msg)),
	}
}
