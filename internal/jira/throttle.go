package jira

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultCallDelay is the pause between two calls to the same upstream.
const DefaultCallDelay = time.Second

type thunk struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Throttle runs calls one at a time, in arrival order, with a fixed pause after each.
// A single runner goroutine is started on demand and exits once the queue is empty.
type Throttle struct {
	delay time.Duration

	mu      sync.Mutex
	queue   []*thunk
	running bool
}

func NewThrottle(delay time.Duration) *Throttle {
	if delay < 0 {
		delay = 0
	}
	return &Throttle{delay: delay}
}

// Do enqueues fn and waits for its turn and result. If ctx is done before fn's turn
// comes, fn is never called.
func (t *Throttle) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	th := &thunk{ctx: ctx, fn: fn, done: make(chan error, 1)}

	t.mu.Lock()
	t.queue = append(t.queue, th)
	if !t.running {
		t.running = true
		go t.run()
	}
	t.mu.Unlock()

	select {
	case err := <-th.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Throttle) run() {
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.running = false
			t.mu.Unlock()
			return
		}
		th := t.queue[0]
		t.queue[0] = nil
		t.queue = t.queue[1:]
		t.mu.Unlock()

		if err := th.ctx.Err(); err != nil {
			th.done <- err
			continue
		}
		th.done <- call(th)
		time.Sleep(t.delay)
	}
}

func call(th *thunk) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("throttled call panicked: %v", r)
		}
	}()
	return th.fn(th.ctx)
}

// Running reports whether the runner goroutine is active.
func (t *Throttle) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// ThrottledClient serializes FindIssue calls through a Throttle shared by every
// client of the same upstream host.
type ThrottledClient struct {
	inner    IssueFinder
	throttle *Throttle
}

func NewThrottledClient(inner IssueFinder, throttle *Throttle) *ThrottledClient {
	return &ThrottledClient{inner: inner, throttle: throttle}
}

func (c *ThrottledClient) FindIssue(ctx context.Context, key string) (*Issue, error) {
	var issue *Issue
	err := c.throttle.Do(ctx, func(ctx context.Context) error {
		var err error
		issue, err = c.inner.FindIssue(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return issue, nil
}
