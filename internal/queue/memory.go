package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type memoryRepeat struct {
	opts     RepeatOptions
	schedule cron.Schedule
	next     time.Time
}

type delayedJob struct {
	job *Job
	due time.Time
}

// MemoryQueue implements Queue in process memory. It is the fallback when Redis is
// unreachable and the queue used by tests.
type MemoryQueue struct {
	mu      sync.Mutex
	repeats map[string]*memoryRepeat
	wait    []*Job
	delayed []delayedJob
	active  map[string]*Job
	signal  chan struct{}
	now     func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		repeats: make(map[string]*memoryRepeat),
		active:  make(map[string]*Job),
		signal:  make(chan struct{}, 1),
		now:     time.Now,
	}
}

func (q *MemoryQueue) AddRepeating(_ context.Context, opts RepeatOptions) (string, error) {
	schedule, err := validateRepeat(opts)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.repeats[opts.RepeatKey]; !ok {
		q.repeats[opts.RepeatKey] = &memoryRepeat{
			opts:     opts,
			schedule: schedule,
			next:     schedule.Next(q.now()),
		}
	}
	return opts.RepeatKey, nil
}

func (q *MemoryQueue) RemoveRepeatingByKey(_ context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.repeats, key)
	return nil
}

func (q *MemoryQueue) ListRepeatingKeys(_ context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := make([]string, 0, len(q.repeats))
	for key := range q.repeats {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (q *MemoryQueue) PromoteDue(_ context.Context, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	promoted := 0
	for _, r := range q.repeats {
		if r.next.After(now) {
			continue
		}
		q.wait = append(q.wait, newJob(r.opts, r.next))
		r.next = r.schedule.Next(now)
		promoted++
	}

	pending := q.delayed[:0]
	for _, d := range q.delayed {
		if d.due.After(now) {
			pending = append(pending, d)
			continue
		}
		q.wait = append(q.wait, d.job)
		promoted++
	}
	q.delayed = pending

	if promoted > 0 {
		q.notify()
	}
	return promoted, nil
}

func (q *MemoryQueue) Reserve(ctx context.Context, wait time.Duration) (*Job, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if job := q.pop(); job != nil {
			return job, nil
		}
		if wait <= 0 {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return q.pop(), nil
		case <-q.signal:
		}
	}
}

func (q *MemoryQueue) pop() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.wait) == 0 {
		return nil
	}
	job := q.wait[0]
	q.wait = q.wait[1:]
	q.active[job.ID] = job
	if len(q.wait) > 0 {
		q.notify()
	}
	return job
}

// notify wakes one blocked Reserve. Callers hold mu.
func (q *MemoryQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Complete(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, job.ID)
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, job *Job, delay time.Duration) error {
	next := *job
	next.Attempt++

	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, job.ID)
	q.delayed = append(q.delayed, delayedJob{job: &next, due: q.now().Add(delay)})
	return nil
}

// Active reports how many jobs are reserved and not yet completed or retried.
func (q *MemoryQueue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

func (q *MemoryQueue) Close() error {
	return nil
}
