package jira

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"timesheet/internal/pkg/httpclient"
)

var (
	// ErrIssueNotFound is returned when Jira has no issue with the requested key (yet).
	ErrIssueNotFound = errors.New("jira issue not found")
	// ErrUpstreamUnavailable covers rate limiting, server errors and transport failures.
	ErrUpstreamUnavailable = errors.New("jira unavailable")
)

type Issue struct {
	ID      string
	Key     string
	Summary string
}

// IssueFinder looks an issue up by key, e.g. "ABC-123".
type IssueFinder interface {
	FindIssue(ctx context.Context, key string) (*Issue, error)
}

// Client calls the Jira REST API directly, without pacing.
type Client struct {
	http *httpclient.Client
}

func NewClient(baseURL, email, apiToken string) *Client {
	return &Client{
		http: httpclient.New().
			WithBaseURL(strings.TrimRight(baseURL, "/")).
			WithBasicAuth(email, apiToken).
			WithTimeout(20 * time.Second),
	}
}

type issueResponse struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
	} `json:"fields"`
}

func (c *Client) FindIssue(ctx context.Context, key string) (*Issue, error) {
	var resp issueResponse
	err := c.http.GetJSON(ctx, "/rest/api/2/issue/"+url.PathEscape(key), map[string]string{"fields": "summary"}, &resp)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, errors.Mark(errors.Wrapf(err, "issue %s", key), ErrIssueNotFound)
		}
		return nil, errors.Mark(errors.Wrapf(err, "issue %s", key), ErrUpstreamUnavailable)
	}
	return &Issue{ID: resp.ID, Key: resp.Key, Summary: resp.Fields.Summary}, nil
}
