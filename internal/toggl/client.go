package toggl

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"timesheet/internal/pkg/httpclient"
)

const (
	DefaultBaseURL = "https://api.track.toggl.com"

	reportsPageSize = 50
	maxReportPages  = 200
)

// ErrUnavailable marks a failed Toggl request.
var ErrUnavailable = errors.New("toggl unavailable")

type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullname"`
}

type Project struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TimeEntry is a tracked interval. Stop is nil while the timer is still running.
type TimeEntry struct {
	ID          int64
	UserID      int64
	ProjectID   *int64
	Description string
	Start       time.Time
	Stop        *time.Time
}

// Client reads workspace data from the Toggl Track API, pacing requests with a rate limiter.
type Client struct {
	http    *httpclient.Client
	limiter *rate.Limiter
}

// NewClient authenticates with an API token. A nil limiter allows one request per second.
func NewClient(baseURL, apiToken string, limiter *rate.Limiter) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	return &Client{
		http: httpclient.New().
			WithBaseURL(baseURL).
			WithBasicAuth(apiToken, "api_token"),
		limiter: limiter,
	}
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "toggl rate limiter")
	}
	return nil
}

func (c *Client) WorkspaceUsers(ctx context.Context, workspaceID int64) ([]User, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var users []User
	if err := c.http.GetJSON(ctx, fmt.Sprintf("/api/v9/workspaces/%d/users", workspaceID), nil, &users); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "list workspace users"), ErrUnavailable)
	}
	return users, nil
}

func (c *Client) Projects(ctx context.Context, workspaceID int64) ([]Project, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var projects []Project
	if err := c.http.GetJSON(ctx, fmt.Sprintf("/api/v9/workspaces/%d/projects", workspaceID), nil, &projects); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "list projects"), ErrUnavailable)
	}
	return projects, nil
}

type searchRequest struct {
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	PageSize       int    `json:"page_size"`
	FirstRowNumber int    `json:"first_row_number,omitempty"`
}

type searchRow struct {
	UserID      int64  `json:"user_id"`
	ProjectID   *int64 `json:"project_id"`
	Description string `json:"description"`
	TimeEntries []struct {
		ID    int64      `json:"id"`
		Start time.Time  `json:"start"`
		Stop  *time.Time `json:"stop"`
	} `json:"time_entries"`
}

// TimeEntries returns every entry of the workspace that starts on a day in [from, to].
func (c *Client) TimeEntries(ctx context.Context, workspaceID int64, from, to time.Time) ([]TimeEntry, error) {
	path := fmt.Sprintf("/reports/api/v3/workspace/%d/search/time_entries", workspaceID)
	req := searchRequest{
		StartDate: from.UTC().Format("2006-01-02"),
		EndDate:   to.UTC().Format("2006-01-02"),
		PageSize:  reportsPageSize,
	}

	var entries []TimeEntry
	for page := 0; page < maxReportPages; page++ {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		var rows []searchRow
		header, err := c.http.PostJSONHeader(ctx, path, req, &rows)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "search time entries"), ErrUnavailable)
		}
		for _, row := range rows {
			for _, te := range row.TimeEntries {
				entries = append(entries, TimeEntry{
					ID:          te.ID,
					UserID:      row.UserID,
					ProjectID:   row.ProjectID,
					Description: row.Description,
					Start:       te.Start.UTC(),
					Stop:        utcPtr(te.Stop),
				})
			}
		}

		next, err := strconv.Atoi(header.Get("X-Next-Row-Number"))
		if err != nil || next <= 0 {
			return entries, nil
		}
		req.FirstRowNumber = next
	}
	return entries, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
