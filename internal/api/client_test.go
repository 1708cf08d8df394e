package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a manual clock whose Sleep advances time instead of blocking.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	f.mu.Unlock()
	return ctx.Err()
}

func (f *fakeClock) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

const searchBody = `{
	"status": "success",
	"msg": "ok",
	"data": {
		"list": [
			{
				"id": "1866332878329868693",
				"text": "golang release notes",
				"createdAt": "Tue Dec 10 07:00:30 +0000 2024",
				"retweetCount": 3,
				"replyCount": 1,
				"likeCount": 42,
				"quoteCount": 2,
				"viewCount": 1200,
				"lang": "en",
				"source": "Twitter Web App",
				"author": {"id": "42", "userName": "gopher", "name": "The Gopher"}
			}
		]
	}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, maxAttempts int) (*Client, *fakeClock, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	clock := newFakeClock()
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = maxAttempts
	client := NewClient("tw_test_key_123", testLogger(),
		WithBaseURL(server.URL),
		WithRetryPolicy(policy),
		WithClock(clock.Now),
		WithSleep(clock.Sleep),
	)
	return client, clock, &calls
}

// statusSequence replies with the given statuses in order, then repeats the last one.
func statusSequence(statuses ...int) http.HandlerFunc {
	var n atomic.Int32
	return func(w http.ResponseWriter, r *http.Request) {
		i := int(n.Add(1)) - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		w.WriteHeader(statuses[i])
		if statuses[i] == http.StatusOK {
			fmt.Fprint(w, searchBody)
		} else {
			fmt.Fprint(w, `{"status":"error","msg":"unavailable"}`)
		}
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient("tw_test_key_123", nil)
	if client.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %q, want %q", client.baseURL, DefaultBaseURL)
	}
	if client.retry.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", client.retry.MaxAttempts)
	}
	w, ok := client.Limiter().Window(DefaultWindow)
	if !ok || w.Limit != defaultQPS {
		t.Errorf("default window = %+v, want limit %d", w, defaultQPS)
	}
}

func TestNew_WithoutKeyReturnsNoopClient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, searchBody)
	}))
	defer server.Close()

	tw := New("", testLogger(), WithBaseURL(server.URL))
	if _, ok := tw.(*NoopClient); !ok {
		t.Fatalf("New(\"\") = %T, want *NoopClient", tw)
	}

	ctx := context.Background()
	posts, err := tw.Search(ctx, SearchParameters{Query: "golang"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(posts) != 0 {
		t.Errorf("len(posts) = %d, want 0", len(posts))
	}
	user, err := tw.UserInfo(ctx, "gopher")
	if err != nil {
		t.Fatalf("UserInfo: %v", err)
	}
	if user.ID != "" || user.Username != "gopher" {
		t.Errorf("placeholder user = %+v", user)
	}
	if posts, _ := tw.UserTweets(ctx, "42", false, ""); len(posts) != 0 {
		t.Errorf("UserTweets returned %d posts", len(posts))
	}
	if posts, _ := tw.TweetsByIDs(ctx, []string{"1"}); len(posts) != 0 {
		t.Errorf("TweetsByIDs returned %d posts", len(posts))
	}
	if calls.Load() != 0 {
		t.Errorf("network calls = %d, want 0", calls.Load())
	}
}

func TestNew_WithKeyReturnsClient(t *testing.T) {
	if _, ok := New("tw_key", testLogger()).(*Client); !ok {
		t.Error("New with key should return *Client")
	}
}

func TestClient_Search_Success(t *testing.T) {
	client, _, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != EndpointSearch {
			t.Errorf("path = %q, want %q", r.URL.Path, EndpointSearch)
		}
		if r.Header.Get("X-API-Key") != "tw_test_key_123" {
			t.Errorf("X-API-Key = %q", r.Header.Get("X-API-Key"))
		}
		q := r.URL.Query()
		if q.Get("query") != "golang" || q.Get("queryType") != "Top" || q.Get("cursor") != "abc" {
			t.Errorf("query = %v", q)
		}
		fmt.Fprint(w, searchBody)
	}, 3)

	posts, err := client.Search(context.Background(), SearchParameters{Query: "golang", QueryType: QueryTop, Cursor: "abc"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if len(posts) != 1 {
		t.Fatalf("len(posts) = %d, want 1", len(posts))
	}

	p := posts[0]
	if p.ID != "1866332878329868693" || p.Text != "golang release notes" {
		t.Errorf("post = %+v", p)
	}
	want := time.Date(2024, 12, 10, 7, 0, 30, 0, time.UTC)
	if !p.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", p.CreatedAt, want)
	}
	if p.AuthorID != "42" || p.AuthorUsername != "gopher" || p.AuthorName != "The Gopher" {
		t.Errorf("author = %q/%q/%q", p.AuthorID, p.AuthorUsername, p.AuthorName)
	}
	if p.LikeCount != 42 || p.RetweetCount != 3 || p.ReplyCount != 1 || p.QuoteCount != 2 {
		t.Errorf("counts = %+v", p)
	}
	if p.ViewCount == nil || *p.ViewCount != 1200 {
		t.Errorf("ViewCount = %v, want 1200", p.ViewCount)
	}
	if p.Language != "en" || p.Source != "Twitter Web App" {
		t.Errorf("lang/source = %q/%q", p.Language, p.Source)
	}
	if p.RawPayload["id"] != "1866332878329868693" {
		t.Errorf("RawPayload not retained: %v", p.RawPayload)
	}
	if _, ok := p.RawPayload["author"].(map[string]any); !ok {
		t.Errorf("RawPayload author missing: %v", p.RawPayload["author"])
	}
}

func TestClient_Search_DefaultQueryType(t *testing.T) {
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("queryType"); got != "Latest" {
			t.Errorf("queryType = %q, want Latest", got)
		}
		if r.URL.Query().Has("cursor") {
			t.Error("cursor should be omitted when empty")
		}
		fmt.Fprint(w, searchBody)
	}, 1)

	if _, err := client.Search(context.Background(), SearchParameters{Query: "golang"}); err != nil {
		t.Fatalf("Search: %v", err)
	}
}

func TestClient_RetriesThenSucceeds(t *testing.T) {
	client, clock, calls := newTestClient(t, statusSequence(503, 503, 200), 3)

	posts, err := client.Search(context.Background(), SearchParameters{Query: "golang"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(posts) != 1 {
		t.Errorf("len(posts) = %d, want 1", len(posts))
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if got := len(clock.Sleeps()); got != 2 {
		t.Errorf("sleeps = %d, want 2", got)
	}
}

func TestClient_RetriesExhausted(t *testing.T) {
	client, clock, calls := newTestClient(t, statusSequence(503), 3)

	_, err := client.Search(context.Background(), SearchParameters{Query: "golang"})
	if !errors.Is(err, ErrServerError) {
		t.Fatalf("Expected ErrServerError, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *Error, got %T", err)
	}
	if apiErr.StatusCode != 503 || apiErr.Attempts != 3 {
		t.Errorf("StatusCode = %d, Attempts = %d", apiErr.StatusCode, apiErr.Attempts)
	}
	if apiErr.Body == "" {
		t.Error("Expected response body on error")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if got := len(clock.Sleeps()); got != 2 {
		t.Errorf("sleeps = %d, want 2 (no sleep after the last attempt)", got)
	}
}

func TestClient_UnauthorizedAbortsImmediately(t *testing.T) {
	client, clock, calls := newTestClient(t, statusSequence(401, 200), 5)

	_, err := client.Search(context.Background(), SearchParameters{Query: "golang"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if len(clock.Sleeps()) != 0 {
		t.Errorf("sleeps = %v, want none", clock.Sleeps())
	}
}

func TestClient_TooManyRequests_HonoursRetryAfter(t *testing.T) {
	var n atomic.Int32
	client, clock, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, searchBody)
	}, 3)

	posts, err := client.Search(context.Background(), SearchParameters{Query: "golang"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(posts) != 1 {
		t.Errorf("len(posts) = %d, want 1", len(posts))
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	sleeps := clock.Sleeps()
	if len(sleeps) == 0 || sleeps[0] != 7*time.Second {
		t.Errorf("sleeps = %v, want first 7s", sleeps)
	}
}

func TestClient_TooManyRequests_Exhausted(t *testing.T) {
	client, _, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}, 2)

	_, err := client.Search(context.Background(), SearchParameters{Query: "golang"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Expected ErrRateLimited, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *Error, got %T", err)
	}
	if apiErr.RetryAfter != 60*time.Second {
		t.Errorf("RetryAfter = %v, want default 60s", apiErr.RetryAfter)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestClient_TooManyRequests_BlocksEndpointWindow(t *testing.T) {
	client, clock, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}, 1)

	_, _ = client.Search(context.Background(), SearchParameters{Query: "golang"})

	w, ok := client.Limiter().Window(EndpointSearch)
	if !ok {
		t.Fatal("Expected a window for the search endpoint")
	}
	if w.Remaining != 0 || !w.ResetAt.Equal(clock.Now().Add(30*time.Second)) {
		t.Errorf("window = %+v", w)
	}
}

func TestClient_WaitsForExhaustedWindow(t *testing.T) {
	var reset string
	client, clock, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Rate-Limit-Limit", "10")
		w.Header().Set("X-Rate-Limit-Remaining", "0")
		w.Header().Set("X-Rate-Limit-Reset", reset)
		fmt.Fprint(w, searchBody)
	}, 3)
	reset = fmt.Sprintf("%d", clock.Now().Add(30*time.Second).Unix())

	ctx := context.Background()
	if _, err := client.Search(ctx, SearchParameters{Query: "first"}); err != nil {
		t.Fatalf("first Search: %v", err)
	}
	if len(clock.Sleeps()) != 0 {
		t.Fatalf("first call should not wait, slept %v", clock.Sleeps())
	}
	if _, err := client.Search(ctx, SearchParameters{Query: "second"}); err != nil {
		t.Fatalf("second Search: %v", err)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 30*time.Second {
		t.Errorf("sleeps = %v, want [30s]", sleeps)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestClient_QuotaBlockedOnFinalAttempt(t *testing.T) {
	client, clock, calls := newTestClient(t, statusSequence(200), 1)
	client.Limiter().Block(EndpointSearch, clock.Now().Add(45*time.Second))

	_, err := client.Search(context.Background(), SearchParameters{Query: "golang"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Expected ErrRateLimited, got %v", err)
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter != 45*time.Second {
		t.Errorf("RetryAfter = %v, want 45s", apiErr.RetryAfter)
	}
	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", calls.Load())
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	client, clock, calls := newTestClient(t, statusSequence(404), 5)

	_, err := client.Search(context.Background(), SearchParameters{Query: "golang"})
	if !errors.Is(err, ErrClientError) {
		t.Fatalf("Expected ErrClientError, got %v", err)
	}
	if calls.Load() != 1 || len(clock.Sleeps()) != 0 {
		t.Errorf("calls = %d, sleeps = %v", calls.Load(), clock.Sleeps())
	}
}

func TestClient_ApplicationErrorNotRetried(t *testing.T) {
	client, _, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "error", "msg": "query too long"}`)
	}, 5)

	_, err := client.Search(context.Background(), SearchParameters{Query: "golang"})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("Expected ErrInvalidResponse, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestClient_InvalidJSONNotRetried(t *testing.T) {
	client, _, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{invalid json`)
	}, 5)

	_, err := client.Search(context.Background(), SearchParameters{Query: "golang"})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("Expected ErrInvalidResponse, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestClient_NetworkErrorRetried(t *testing.T) {
	clock := newFakeClock()
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 2
	client := NewClient("tw_test_key_123", testLogger(),
		WithBaseURL("http://127.0.0.1:1"),
		WithTimeout(time.Second),
		WithRetryPolicy(policy),
		WithClock(clock.Now),
		WithSleep(clock.Sleep),
	)

	_, err := client.Search(context.Background(), SearchParameters{Query: "golang"})
	if !errors.Is(err, ErrServerError) {
		t.Fatalf("Expected ErrServerError, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Cause == nil {
		t.Errorf("Expected transport cause, got %v", err)
	}
	if len(clock.Sleeps()) != 1 {
		t.Errorf("sleeps = %v, want 1", clock.Sleeps())
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Search(ctx, SearchParameters{Query: "golang"})
	if err == nil {
		t.Fatal("Expected error for cancelled context")
	}
}

func TestClient_SkipsInvalidRecords(t *testing.T) {
	client, clock, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"list":[
			{"id":"1","text":"ok","createdAt":"not a date","author":{"id":"9"}},
			{"id":"2","text":5},
			{"text":"no id"}
		]}}`)
	}, 1)

	posts, err := client.Search(context.Background(), SearchParameters{Query: "golang"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("len(posts) = %d, want 1", len(posts))
	}
	if posts[0].ID != "1" {
		t.Errorf("ID = %q, want 1", posts[0].ID)
	}
	if !posts[0].CreatedAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt = %v, want fallback to now %v", posts[0].CreatedAt, clock.Now())
	}
	if posts[0].ViewCount != nil {
		t.Errorf("ViewCount = %v, want nil", *posts[0].ViewCount)
	}
}

func TestClient_MalformedListIsInvalidResponse(t *testing.T) {
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":"oops"}`)
	}, 1)

	_, err := client.Search(context.Background(), SearchParameters{Query: "golang"})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("Expected ErrInvalidResponse, got %v", err)
	}
}

func TestClient_UserInfo(t *testing.T) {
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != EndpointUserInfo || r.URL.Query().Get("userName") != "gopher" {
			t.Errorf("request = %s", r.URL)
		}
		fmt.Fprint(w, `{"status":"success","data":{
			"id":"42","userName":"gopher","name":"The Gopher","description":"digging",
			"followers":100,"following":7,"createdAt":"Thu Mar 01 10:00:00 +0000 2012",
			"isBlueVerified":true,"profilePicture":"https://example.com/g.png"}}`)
	}, 1)

	user, err := client.UserInfo(context.Background(), "gopher")
	if err != nil {
		t.Fatalf("UserInfo: %v", err)
	}
	if user.ID != "42" || user.Username != "gopher" || user.DisplayName != "The Gopher" {
		t.Errorf("user = %+v", user)
	}
	if user.FollowersCount != 100 || user.FollowingCount != 7 || !user.Verified {
		t.Errorf("user stats = %+v", user)
	}
	if user.CreatedAt.Year() != 2012 {
		t.Errorf("CreatedAt = %v", user.CreatedAt)
	}
	if user.RawPayload["description"] != "digging" {
		t.Errorf("RawPayload = %v", user.RawPayload)
	}
}

func TestClient_UserTweets(t *testing.T) {
	client, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != EndpointUserTweets || q.Get("userId") != "42" || q.Get("includeReplies") != "true" || q.Get("cursor") != "c1" {
			t.Errorf("request = %s", r.URL)
		}
		fmt.Fprint(w, searchBody)
	}, 1)

	posts, err := client.UserTweets(context.Background(), "42", true, "c1")
	if err != nil {
		t.Fatalf("UserTweets: %v", err)
	}
	if len(posts) != 1 {
		t.Errorf("len(posts) = %d, want 1", len(posts))
	}
}

func TestClient_TweetsByIDs(t *testing.T) {
	client, _, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != EndpointTweetsByIDs || r.URL.Query().Get("tweet_ids") != "1,2" {
			t.Errorf("request = %s", r.URL)
		}
		fmt.Fprint(w, `{"status":"success","data":[{"id":"1","text":"a"},{"id":"2","text":"b"}]}`)
	}, 1)

	posts, err := client.TweetsByIDs(context.Background(), []string{"1", "2"})
	if err != nil {
		t.Fatalf("TweetsByIDs: %v", err)
	}
	if len(posts) != 2 {
		t.Errorf("len(posts) = %d, want 2", len(posts))
	}

	posts, err = client.TweetsByIDs(context.Background(), nil)
	if err != nil || posts != nil {
		t.Errorf("empty ids = %v, %v", posts, err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 60 * time.Second},
		{"15", 15 * time.Second},
		{"garbage", 60 * time.Second},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{"99999999999", 24 * time.Hour},
		{"86401", 24 * time.Hour},
		{now.Add(72 * time.Hour).Format(http.TimeFormat), 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRedactAPIKey(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"", "(empty)"},
		{"short", "***...***"},
		{"tw_abcdefghijklmnop", "tw_a***...***nop"},
	}

	for _, tt := range tests {
		if got := redactAPIKey(tt.key); got != tt.expected {
			t.Errorf("redactAPIKey(%q) = %q, want %q", tt.key, got, tt.expected)
		}
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: ErrServerError, Endpoint: EndpointSearch, StatusCode: 503, Attempts: 3, Body: "down"}
	want := "twitter: server error (/twitter/tweet/advanced_search): HTTP 503 after 3 attempts: down"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
