package jira

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FindIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "summary", r.URL.Query().Get("fields"))
		user, pass, _ := r.BasicAuth()
		assert.Equal(t, "bot@acme.example", user)
		assert.Equal(t, "token", pass)

		switch r.URL.Path {
		case "/rest/api/2/issue/ABC-1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"10001","key":"ABC-1","fields":{"summary":"Fix login"}}`))
		case "/rest/api/2/issue/ABC-404":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "bot@acme.example", "token")

	issue, err := c.FindIssue(context.Background(), "ABC-1")
	require.NoError(t, err)
	assert.Equal(t, &Issue{ID: "10001", Key: "ABC-1", Summary: "Fix login"}, issue)

	_, err = c.FindIssue(context.Background(), "ABC-404")
	assert.True(t, errors.Is(err, ErrIssueNotFound))
	assert.False(t, errors.Is(err, ErrUpstreamUnavailable))

	_, err = c.FindIssue(context.Background(), "ABC-503")
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
}
