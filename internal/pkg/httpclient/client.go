package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client wraps resty for JSON requests to external APIs.
type Client struct {
	r *resty.Client
}

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, body)
}

// Temporary reports whether the status is worth retrying later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// New creates a new HTTP client with sensible defaults. Retries are off;
// callers that pace their own requests must not have them multiplied.
func New() *Client {
	r := resty.New().
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json")

	return &Client{r: r}
}

// WithBaseURL sets the URL that relative request paths are resolved against.
func (c *Client) WithBaseURL(url string) *Client {
	c.r.SetBaseURL(url)
	return c
}

// WithTimeout sets a custom timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.r.SetTimeout(d)
	return c
}

// WithBasicAuth sets basic authentication credentials.
func (c *Client) WithBasicAuth(user, pass string) *Client {
	c.r.SetBasicAuth(user, pass)
	return c
}

// WithBearerToken sets a bearer token for authentication.
func (c *Client) WithBearerToken(token string) *Client {
	c.r.SetAuthToken(token)
	return c
}

// WithHeader sets a custom header.
func (c *Client) WithHeader(key, value string) *Client {
	c.r.SetHeader(key, value)
	return c
}

// WithRetry enables resty's retry with the given count and wait bounds.
func (c *Client) WithRetry(count int, wait, maxWait time.Duration) *Client {
	c.r.SetRetryCount(count).
		SetRetryWaitTime(wait).
		SetRetryMaxWaitTime(maxWait)
	return c
}

// GetJSON sends a GET request and decodes a 2xx JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query map[string]string, out interface{}) error {
	req := c.r.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	resp, err := req.Get(path)
	return decode(resp, err, out)
}

// PostJSON sends a POST request with a JSON body and decodes a 2xx JSON body into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out interface{}) error {
	_, err := c.PostJSONHeader(ctx, path, body, out)
	return err
}

// PostJSONHeader is PostJSON that also returns the response headers, for APIs that
// paginate through them.
func (c *Client) PostJSONHeader(ctx context.Context, path string, body, out interface{}) (http.Header, error) {
	req := c.r.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json")
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err := decode(resp, err, out); err != nil {
		return nil, err
	}
	return resp.Header(), nil
}

// Raw returns the underlying resty client for advanced usage.
func (c *Client) Raw() *resty.Client {
	return c.r
}

func decode(resp *resty.Response, err error, out interface{}) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &StatusError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
