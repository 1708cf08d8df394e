// Package api provides the rate-limited, retrying client for the Twitter data API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the production API host.
const DefaultBaseURL = "https://api.twitterapi.io"

// Endpoint paths, also used as rate limit keys.
const (
	EndpointSearch      = "/twitter/tweet/advanced_search"
	EndpointUserInfo    = "/twitter/user/info"
	EndpointUserTweets  = "/twitter/user/last_tweets"
	EndpointTweetsByIDs = "/twitter/tweets"
)

const (
	defaultQPS        = 200
	defaultRetryAfter = 60 * time.Second
	maxRetryAfter     = 24 * time.Hour
	maxResponseBody   = 8 << 20 // 8MB
)

// Twitter is the set of API operations collectors depend on.
type Twitter interface {
	Search(ctx context.Context, params SearchParameters) ([]Post, error)
	UserInfo(ctx context.Context, username string) (*User, error)
	UserTweets(ctx context.Context, userID string, includeReplies bool, cursor string) ([]Post, error)
	TweetsByIDs(ctx context.Context, ids []string) ([]Post, error)
}

// Client is an HTTP client for the Twitter data API. It paces requests,
// honours per-endpoint rate windows and retries transient failures.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	timeout    time.Duration
	logger     *slog.Logger

	retry   RetryPolicy
	limiter *RateLimiter
	pacer   *rate.Limiter
	qps     int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithQPS sets the default queries-per-second budget.
func WithQPS(qps int) Option {
	return func(c *Client) {
		if qps > 0 {
			c.qps = qps
		}
	}
}

// WithClock replaces the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithSleep replaces the function used to wait between attempts (for testing).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// New returns a live Client when apiKey is set, and a NoopClient otherwise.
func New(apiKey string, logger *slog.Logger, opts ...Option) Twitter {
	if logger == nil {
		logger = slog.Default()
	}
	if apiKey == "" {
		logger.Warn("Twitter API key is missing, using no-op client that returns empty results")
		return NewNoopClient(logger)
	}
	return NewClient(apiKey, logger, opts...)
}

// NewClient creates a new API client.
func NewClient(apiKey string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   10,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       60 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ForceAttemptHTTP2:     true,
			},
		},
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		timeout: 30 * time.Second,
		logger:  logger,
		retry:   DefaultRetryPolicy(),
		qps:     defaultQPS,
		now:     time.Now,
		sleep:   sleepContext,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.limiter = NewRateLimiter(c.qps, c.now)
	c.pacer = rate.NewLimiter(rate.Limit(c.qps), c.qps)
	return c
}

// Limiter exposes the client's per-endpoint rate windows.
func (c *Client) Limiter() *RateLimiter {
	return c.limiter
}

// Search runs an advanced search query.
func (c *Client) Search(ctx context.Context, params SearchParameters) ([]Post, error) {
	queryType := params.QueryType
	if queryType == "" {
		queryType = QueryLatest
	}
	q := url.Values{}
	q.Set("query", params.Query)
	q.Set("queryType", string(queryType))
	if params.Cursor != "" {
		q.Set("cursor", params.Cursor)
	}

	c.logger.Info("Searching tweets", "query", params.Query, "query_type", queryType)
	data, err := c.do(ctx, EndpointSearch, q)
	if err != nil {
		return nil, err
	}
	posts, err := c.parseTweetList(EndpointSearch, data)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Search complete", "query", params.Query, "found", len(posts))
	return posts, nil
}

// UserInfo fetches a user profile by username.
func (c *Client) UserInfo(ctx context.Context, username string) (*User, error) {
	q := url.Values{}
	q.Set("userName", username)

	data, err := c.do(ctx, EndpointUserInfo, q)
	if err != nil {
		return nil, err
	}
	return c.parseUser(EndpointUserInfo, data)
}

// UserTweets fetches the most recent tweets of a user.
func (c *Client) UserTweets(ctx context.Context, userID string, includeReplies bool, cursor string) ([]Post, error) {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("includeReplies", strconv.FormatBool(includeReplies))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	data, err := c.do(ctx, EndpointUserTweets, q)
	if err != nil {
		return nil, err
	}
	posts, err := c.parseTweetList(EndpointUserTweets, data)
	if err != nil {
		return nil, err
	}
	c.logger.Info("User tweets fetched", "user_id", userID, "found", len(posts))
	return posts, nil
}

// TweetsByIDs fetches tweets by their ids.
func (c *Client) TweetsByIDs(ctx context.Context, ids []string) ([]Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("tweet_ids", strings.Join(ids, ","))

	data, err := c.do(ctx, EndpointTweetsByIDs, q)
	if err != nil {
		return nil, err
	}
	posts, err := c.parseTweetArray(EndpointTweetsByIDs, data)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Tweets fetched by id", "requested", len(ids), "found", len(posts))
	return posts, nil
}

// response is a fully read HTTP response.
type response struct {
	status int
	header http.Header
	body   []byte
}

// do executes a GET against endpoint, applying rate windows and the retry
// policy, and returns the envelope's data payload.
func (c *Client) do(ctx context.Context, endpoint string, query url.Values) (json.RawMessage, error) {
	reqURL := c.baseURL + endpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	maxAttempts := c.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr *Error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		final := attempt == maxAttempts-1

		if allowed, wait := c.limiter.Check(endpoint); !allowed {
			if final {
				return nil, &Error{Kind: ErrRateLimited, Endpoint: endpoint, Attempts: attempt + 1, RetryAfter: wait}
			}
			c.logger.Info("Rate limit window exhausted, waiting",
				"endpoint", endpoint,
				"wait", wait,
				"attempt", attempt+1,
				"max_attempts", maxAttempts,
			)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.send(ctx, reqURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &Error{Kind: ErrServerError, Endpoint: endpoint, Attempts: attempt + 1, Cause: err}
			c.logger.Warn("Network error", "endpoint", endpoint, "attempt", attempt+1, "error", err)
			if final {
				break
			}
			if err := c.backoff(ctx, endpoint, attempt, maxAttempts); err != nil {
				return nil, err
			}
			continue
		}

		c.updateRateLimit(endpoint, resp.header)

		switch {
		case resp.status == http.StatusUnauthorized:
			c.logger.Error("Authentication failed", "endpoint", endpoint, "key", redactAPIKey(c.apiKey))
			return nil, &Error{
				Kind:       ErrUnauthorized,
				Endpoint:   endpoint,
				StatusCode: resp.status,
				Body:       string(resp.body),
				Attempts:   attempt + 1,
			}

		case resp.status == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.header.Get("Retry-After"), c.now())
			c.limiter.Block(endpoint, c.now().Add(retryAfter))
			c.logger.Warn("Rate limited by API", "endpoint", endpoint, "retry_after", retryAfter)
			if final {
				return nil, &Error{
					Kind:       ErrRateLimited,
					Endpoint:   endpoint,
					StatusCode: resp.status,
					Body:       string(resp.body),
					Attempts:   attempt + 1,
					RetryAfter: retryAfter,
				}
			}
			if err := c.sleep(ctx, retryAfter); err != nil {
				return nil, err
			}
			continue

		case IsRetryableStatus(resp.status):
			lastErr = &Error{
				Kind:       ErrServerError,
				Endpoint:   endpoint,
				StatusCode: resp.status,
				Body:       string(resp.body),
				Attempts:   attempt + 1,
			}
			c.logger.Warn("Retryable API error", "endpoint", endpoint, "status", resp.status, "attempt", attempt+1)
			if final {
				return nil, lastErr
			}
			if err := c.backoff(ctx, endpoint, attempt, maxAttempts); err != nil {
				return nil, err
			}
			continue

		case resp.status >= 400:
			c.logger.Error("Non-retryable API error", "endpoint", endpoint, "status", resp.status)
			return nil, &Error{
				Kind:       ErrClientError,
				Endpoint:   endpoint,
				StatusCode: resp.status,
				Body:       string(resp.body),
				Attempts:   attempt + 1,
			}
		}

		return decodeEnvelope(endpoint, resp.body)
	}

	if lastErr == nil {
		lastErr = &Error{Kind: ErrServerError, Endpoint: endpoint, Attempts: maxAttempts}
	}
	return nil, lastErr
}

// send performs a single HTTP round trip and reads the bounded body.
func (c *Client) send(ctx context.Context, reqURL string) (*response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "tweetwatch/1.0")

	c.logger.Debug("API request", "url", reqURL, "key", redactAPIKey(c.apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	c.logger.Debug("API response", "status", resp.StatusCode, "bytes", len(body))
	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

func (c *Client) backoff(ctx context.Context, endpoint string, attempt, maxAttempts int) error {
	d := c.retry.Backoff(attempt)
	c.logger.Info("Retrying request",
		"endpoint", endpoint,
		"delay", d,
		"attempt", attempt+1,
		"max_attempts", maxAttempts,
	)
	return c.sleep(ctx, d)
}

// updateRateLimit records the X-Rate-Limit-* headers for endpoint.
func (c *Client) updateRateLimit(endpoint string, h http.Header) {
	limit, _ := strconv.Atoi(h.Get("X-Rate-Limit-Limit"))
	remaining, _ := strconv.Atoi(h.Get("X-Rate-Limit-Remaining"))
	reset, _ := strconv.ParseFloat(h.Get("X-Rate-Limit-Reset"), 64)

	sec := int64(reset)
	nsec := int64((reset - float64(sec)) * float64(time.Second))
	c.limiter.Update(endpoint, limit, remaining, time.Unix(sec, nsec))
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && secs >= 0 {
		if secs > int64(maxRetryAfter/time.Second) {
			return maxRetryAfter
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return min(d, maxRetryAfter)
		}
		return 0
	}
	return defaultRetryAfter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// redactAPIKey masks the key for logging.
func redactAPIKey(key string) string {
	if key == "" {
		return "(empty)"
	}
	if len(key) < 8 {
		return "***...***"
	}
	// Show first 4 chars and last 3 chars
	return key[:4] + "***...***" + key[len(key)-3:]
}
