// Package crossref looks up bibliographic metadata in the Crossref REST API.
package crossref

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

const (
	// BaseURL is the Crossref REST API base URL.
	BaseURL = "https://api.crossref.org"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 20 * time.Second

	// DefaultRateLimit is requests per second. The public pool asks polite
	// clients to stay well below its published ceiling.
	DefaultRateLimit = 5.0

	// DefaultRows is the number of candidates requested per lookup.
	DefaultRows = 5

	// SelectFields are the work fields requested.
	SelectFields = "DOI,title,author,container-title,short-container-title,volume,issue,page,ISSN,URL,issued,published-print,published-online,score"

	// maxBodyBytes bounds how much of a response is read.
	maxBodyBytes = 4 << 20
)

// Client is a rate-limited HTTP client for the Crossref works endpoint.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	email      string
	rows       int
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithRateLimit sets the request rate in requests per second.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRows sets how many candidates a lookup asks for.
func WithRows(n int) ClientOption {
	return func(c *Client) {
		c.rows = n
	}
}

// WithUserAgent sets the product part of the User-Agent header.
func WithUserAgent(product string) ClientOption {
	return func(c *Client) {
		c.userAgent = product
	}
}

// NewClient creates a Crossref client. email is sent as the mailto contact
// in the User-Agent and query string and must not be empty.
func NewClient(email string, opts ...ClientOption) (*Client, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrNoEmail
	}
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		baseURL:    BaseURL,
		email:      email,
		rows:       DefaultRows,
		userAgent:  "medparse",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Search queries /works and classifies the result. It never returns a bare
// error; failures are carried in the Outcome.
func (c *Client) Search(ctx context.Context, q Query) Outcome {
	works, err := c.search(ctx, q)
	switch {
	case err == nil && len(works) == 0:
		return Outcome{Status: NotFound}
	case err == nil:
		return Outcome{Status: Found, Works: works}
	case IsNotFound(err):
		return Outcome{Status: NotFound}
	case IsTransient(err):
		return Outcome{Status: Transient, Err: err}
	}
	return Outcome{Status: Permanent, Err: err}
}

func (c *Client) search(ctx context.Context, q Query) ([]Work, error) {
	if strings.TrimSpace(q.Title) == "" {
		return nil, fmt.Errorf("%w: empty title", ErrNotFound)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.worksURL(q), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("%s (mailto:%s)", c.userAgent, c.email))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if err := checkHTTPErrors(resp, q); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrNetworkError, err)
	}
	var list workList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: parsing works: %v", ErrInvalidResponse, err)
	}
	if list.Status != "" && list.Status != "ok" {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidResponse, list.Status)
	}
	return list.Message.Items, nil
}

func (c *Client) worksURL(q Query) string {
	v := url.Values{}
	v.Set("rows", strconv.Itoa(c.rows))
	v.Set("select", SelectFields)
	v.Set("query.title", q.Title)
	if q.Author != "" {
		v.Set("query.author", q.Author)
	}
	if q.Year > 0 {
		y := strconv.Itoa(q.Year)
		v.Set("filter", "from-pub-date:"+y+",until-pub-date:"+y)
	}
	v.Set("mailto", c.email)
	return c.baseURL + "/works?" + v.Encode()
}

// checkHTTPErrors returns an error if the HTTP response indicates a problem.
func checkHTTPErrors(resp *http.Response, q Query) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode >= 400 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Query:      q.Title,
		}
	}
	return nil
}

// Status classifies a lookup.
type Status int

const (
	Found Status = iota
	NotFound
	Transient
	Permanent
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

// Cacheable reports whether an outcome with this status may be cached.
func (s Status) Cacheable() bool {
	return s == Found || s == NotFound
}

// Outcome is the typed result of one lookup. Err is set for Transient and
// Permanent.
type Outcome struct {
	Status Status
	Works  []Work
	Err    error
}

// ErrCanceled is returned in an Outcome when the context ends mid-retry.
var ErrCanceled = errors.New("lookup canceled")

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
