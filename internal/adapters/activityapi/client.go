package activityapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"signupboard/internal/adapters/http/perf"
	"signupboard/internal/domain/activity"
)

// DefaultTimeout bounds a single call to the activities service.
const DefaultTimeout = 10 * time.Second

// DefaultSlowUpstreamMs is the default threshold for slow upstream warnings.
const DefaultSlowUpstreamMs = 500

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// Route templates used for timing and logs, so activity names and emails
// never end up as metric keys.
const (
	routeList       = "GET /activities"
	routeSignup     = "POST /activities/{name}/signup"
	routeUnregister = "DELETE /activities/{name}/participants/{email}"
)

// Result is the body of a successful mutation.
type Result struct {
	Message string // empty when the server sent none
}

// Client calls the activities service.
type Client struct {
	baseURL   string
	http      *http.Client
	collector *perf.Collector
	slowMs    float64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-call transport timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithCollector records every call into collector and warns on calls slower than slowMs.
func WithCollector(collector *perf.Collector, slowMs int) Option {
	return func(c *Client) {
		c.collector = collector
		if slowMs > 0 {
			c.slowMs = float64(slowMs)
		}
	}
}

// NewClient creates a client for the service rooted at baseURL.
// PRE: baseURL is an absolute http(s) URL
// POST: Returns a ready-to-use client or an error for an unusable baseURL
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse activities base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("activities base URL must be absolute http(s), got %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		slowMs:  DefaultSlowUpstreamMs,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListActivities fetches every activity, preserving the order of the keys
// in the server's JSON object.
// PRE: none
// POST: Returns activities in server order, or a TransportError, APIError or ErrMalformedListing
func (c *Client) ListActivities(ctx context.Context) ([]activity.Activity, error) {
	status, body, err := c.do(ctx, http.MethodGet, routeList, c.baseURL+"/activities")
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, newAPIError(routeList, status, body)
	}
	return decodeListing(body)
}

// Signup registers email for the named activity.
// PRE: activityName and email are non-empty
// POST: Returns the server message on 2xx, otherwise a TransportError or APIError
func (c *Client) Signup(ctx context.Context, activityName, email string) (Result, error) {
	target := c.baseURL + "/activities/" + url.PathEscape(activityName) + "/signup?email=" + url.QueryEscape(email)
	return c.mutate(ctx, http.MethodPost, routeSignup, target)
}

// Unregister removes email from the named activity.
// PRE: activityName and email are non-empty
// POST: Returns the server message on 2xx, otherwise a TransportError or APIError
func (c *Client) Unregister(ctx context.Context, activityName, email string) (Result, error) {
	target := c.baseURL + "/activities/" + url.PathEscape(activityName) + "/participants/" + url.PathEscape(email)
	return c.mutate(ctx, http.MethodDelete, routeUnregister, target)
}

func (c *Client) mutate(ctx context.Context, method, route, target string) (Result, error) {
	status, body, err := c.do(ctx, method, route, target)
	if err != nil {
		return Result{}, err
	}
	if status < 200 || status > 299 {
		return Result{}, newAPIError(route, status, body)
	}
	return Result{Message: stringField(body, "message")}, nil
}

// do performs one request and reads the whole body.
func (c *Client) do(ctx context.Context, method, route, target string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, nil, &TransportError{Op: route, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(route, 0, true, start)
		return 0, nil, &TransportError{Op: route, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.observe(route, resp.StatusCode, err != nil || resp.StatusCode >= 500, start)
	if err != nil {
		return 0, nil, &TransportError{Op: route, Err: fmt.Errorf("read body: %w", err)}
	}
	return resp.StatusCode, body, nil
}

// observe logs and records a call timing.
func (c *Client) observe(route string, status int, failed bool, start time.Time) {
	durationMs := float64(time.Since(start).Microseconds()) / 1000.0

	if durationMs >= c.slowMs {
		slog.Warn("slow_upstream_call", "route", route, "status", status, "duration_ms", durationMs)
	} else {
		slog.Debug("upstream_call", "route", route, "status", status, "duration_ms", durationMs)
	}

	c.collector.Record(perf.Entry{
		Kind:       perf.KindUpstream,
		Path:       route,
		StatusCode: status,
		DurationMs: durationMs,
		Failed:     failed,
		Timestamp:  start,
	})
}

// decodeListing walks the listing object in document order.
// A repeated key keeps its first position and its last value.
func decodeListing(body []byte) ([]activity.Activity, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedListing)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, ErrMalformedListing
	}

	activities := make([]activity.Activity, 0)
	index := make(map[string]int)
	root.ForEach(func(key, value gjson.Result) bool {
		a := activity.Activity{
			Name:            key.String(),
			Description:     value.Get("description").String(),
			Schedule:        value.Get("schedule").String(),
			MaxParticipants: int(value.Get("max_participants").Int()),
			Participants:    []string{},
		}
		value.Get("participants").ForEach(func(_, p gjson.Result) bool {
			a.Participants = append(a.Participants, p.String())
			return true
		})
		if err := a.Validate(); err != nil {
			slog.Warn("activity_listing_anomaly", "activity", a.Name, "error", err.Error())
		}
		if i, ok := index[a.Name]; ok {
			slog.Warn("activity_listing_anomaly", "activity", a.Name, "error", "duplicate key")
			activities[i] = a
			return true
		}
		index[a.Name] = len(activities)
		activities = append(activities, a)
		return true
	})
	return activities, nil
}

// newAPIError builds an APIError; an unparsable body simply yields no detail.
func newAPIError(route string, status int, body []byte) *APIError {
	return &APIError{
		Op:      route,
		Status:  status,
		Detail:  stringField(body, "detail"),
		Message: stringField(body, "message"),
	}
}

// stringField returns a top-level string field of a JSON object body.
// Malformed bodies and non-string values read as absent.
func stringField(body []byte, field string) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return ""
	}
	v := root.Get(field)
	if v.Type != gjson.String {
		return ""
	}
	return v.Str
}
