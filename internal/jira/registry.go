package jira

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// Registry hands out throttled clients, one Throttle per upstream host, for the whole process.
type Registry struct {
	delay     time.Duration
	newClient func(baseURL, email, apiToken string) IssueFinder

	mu        sync.Mutex
	throttles map[string]*Throttle
}

func NewRegistry(delay time.Duration) *Registry {
	return &Registry{
		delay: delay,
		newClient: func(baseURL, email, apiToken string) IssueFinder {
			return NewClient(baseURL, email, apiToken)
		},
		throttles: make(map[string]*Throttle),
	}
}

// ClientFor returns a client with the given credentials whose calls share the host's throttle.
func (r *Registry) ClientFor(baseURL, email, apiToken string) IssueFinder {
	return NewThrottledClient(r.newClient(baseURL, email, apiToken), r.throttleFor(hostOf(baseURL)))
}

func (r *Registry) throttleFor(host string) *Throttle {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.throttles[host]
	if !ok {
		t = NewThrottle(r.delay)
		r.throttles[host] = t
	}
	return t
}

func hostOf(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(baseURL)
	}
	return strings.ToLower(u.Host)
}
