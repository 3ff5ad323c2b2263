package queue

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

const (
	// Name of the queue integration jobs live in.
	Name = "integrations"
	// JobProcessIntegration is the only job name the worker dispatches.
	JobProcessIntegration = "processIntegration"

	keyPrefix       = "integration-"
	jobIDSuffix     = "-jobId"
	repeatKeySuffix = "-repeatJobKey"
)

var errEmptyKey = errors.New("queue: repeat key is required")

// JobID is the deterministic job id of an integration's recurring job.
func JobID(integrationID string) string {
	return keyPrefix + integrationID + jobIDSuffix
}

// RepeatKey is the deterministic repeat key of an integration's recurring job.
func RepeatKey(integrationID string) string {
	return keyPrefix + integrationID + repeatKeySuffix
}

// IntegrationIDFromKey reverses RepeatKey. It reports false for keys in any other format.
func IntegrationIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, keyPrefix) || !strings.HasSuffix(key, repeatKeySuffix) {
		return "", false
	}
	id := key[len(keyPrefix) : len(key)-len(repeatKeySuffix)]
	if id == "" {
		return "", false
	}
	return id, true
}

type Payload struct {
	IntegrationID string `json:"integrationId"`
}

// RepeatOptions describes a recurring job.
type RepeatOptions struct {
	JobName     string  `json:"jobName"`
	Payload     Payload `json:"payload"`
	CronPattern string  `json:"cronPattern"`
	JobID       string  `json:"jobId"`
	RepeatKey   string  `json:"repeatKey"`
}

// Job is one firing of a recurring job, possibly on a retry.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Payload   Payload   `json:"payload"`
	RepeatKey string    `json:"repeatKey"`
	Attempt   int       `json:"attempt"`
	FiredAt   time.Time `json:"firedAt"`
}

// Queue is a volatile store of recurring jobs and their pending firings.
// Nothing in it is assumed to survive a restart of its backing host.
type Queue interface {
	// AddRepeating registers a recurring job. Adding an existing key is a no-op.
	AddRepeating(ctx context.Context, opts RepeatOptions) (string, error)
	// RemoveRepeatingByKey drops a recurring job. Removing an unknown key is a no-op.
	RemoveRepeatingByKey(ctx context.Context, key string) error
	ListRepeatingKeys(ctx context.Context) ([]string, error)
	// PromoteDue moves recurring and delayed jobs due at now onto the wait list.
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	// Reserve takes the next waiting job, blocking up to wait. It returns (nil, nil) on timeout.
	Reserve(ctx context.Context, wait time.Duration) (*Job, error)
	Complete(ctx context.Context, job *Job) error
	// Retry re-queues job with its attempt counter bumped, due after delay.
	Retry(ctx context.Context, job *Job, delay time.Duration) error
	Close() error
}

func validateRepeat(opts RepeatOptions) (cron.Schedule, error) {
	if opts.RepeatKey == "" {
		return nil, errEmptyKey
	}
	schedule, err := cron.ParseStandard(opts.CronPattern)
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

func newJob(opts RepeatOptions, firedAt time.Time) *Job {
	return &Job{
		ID:        opts.JobID + ":" + firedAt.UTC().Format("20060102T150405Z"),
		Name:      opts.JobName,
		Payload:   opts.Payload,
		RepeatKey: opts.RepeatKey,
		Attempt:   1,
		FiredAt:   firedAt.UTC(),
	}
}
