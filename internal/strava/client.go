package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the Strava REST API root
const DefaultBaseURL = "https://www.strava.com/api/v3"

// ErrRateLimited is matched by a StatusError carrying HTTP 429
var ErrRateLimited = errors.New("request limit reached")

// StatusError is returned when the API answers with anything but 200
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("strava api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("strava api returned status %d: %s", e.StatusCode, e.Body)
}

// Is reports 429 responses as ErrRateLimited
func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == http.StatusTooManyRequests
}

// Client represents a Strava API client
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at a different API root
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithLimiter makes every request wait for a token from l
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// ReadLimiter returns a limiter allowing n requests per 15 minutes, the
// window Strava counts read requests in. n <= 0 disables limiting.
func ReadLimiter(n int) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(15*time.Minute/time.Duration(n)), n)
}

// NewClient creates a Strava API client. httpClient is expected to
// authenticate requests, see auth.NewClient.
func NewClient(httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		httpClient: httpClient,
		baseURL:    DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListParams selects one page of the athlete's activities
type ListParams struct {
	Page    int
	PerPage int
	// After limits results to activities starting after this instant
	After time.Time
}

func (p ListParams) query() url.Values {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(p.PerPage))
	}
	if !p.After.IsZero() {
		q.Set("after", strconv.FormatInt(p.After.Unix(), 10))
	}
	return q
}

// ListActivities retrieves one page of the authenticated athlete's activities
func (c *Client) ListActivities(ctx context.Context, params ListParams) ([]Activity, error) {
	endpoint := c.baseURL + "/athlete/activities"
	if q := params.query().Encode(); q != "" {
		endpoint += "?" + q
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for request budget: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get activities page %d: %w", params.Page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()

	var activities []Activity
	if err := dec.Decode(&activities); err != nil {
		return nil, fmt.Errorf("failed to decode activities page %d: %w", params.Page, err)
	}

	return activities, nil
}
