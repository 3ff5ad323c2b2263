package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// forEachQueue runs fn against every Queue implementation.
func forEachQueue(t *testing.T, fn func(t *testing.T, q Queue)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryQueue())
	})
	t.Run("redis", func(t *testing.T) {
		_, client := setupMiniredis(t)
		fn(t, NewRedisQueue(client, Name))
	})
}

func repeatFor(id, pattern string) RepeatOptions {
	return RepeatOptions{
		JobName:     JobProcessIntegration,
		Payload:     Payload{IntegrationID: id},
		CronPattern: pattern,
		JobID:       JobID(id),
		RepeatKey:   RepeatKey(id),
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "integration-abc-jobId", JobID("abc"))
	assert.Equal(t, "integration-abc-repeatJobKey", RepeatKey("abc"))

	tests := []struct {
		key    string
		wantID string
		ok     bool
	}{
		{key: "integration-abc-repeatJobKey", wantID: "abc", ok: true},
		{key: "integration-1f0c-77-repeatJobKey", wantID: "1f0c-77", ok: true},
		{key: "integration--repeatJobKey", ok: false},
		{key: "integration-abc-jobId", ok: false},
		{key: "report-weekly", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			id, ok := IntegrationIDFromKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestQueue_AddRepeatingIsIdempotent(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx := context.Background()

		key, err := q.AddRepeating(ctx, repeatFor("a", "*/5 * * * *"))
		require.NoError(t, err)
		assert.Equal(t, RepeatKey("a"), key)

		_, err = q.AddRepeating(ctx, repeatFor("a", "*/5 * * * *"))
		require.NoError(t, err)

		keys, err := q.ListRepeatingKeys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{RepeatKey("a")}, keys)
	})
}

func TestQueue_AddRepeatingRejectsBadInput(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx := context.Background()

		_, err := q.AddRepeating(ctx, repeatFor("a", "not a cron"))
		assert.Error(t, err)

		opts := repeatFor("a", "* * * * *")
		opts.RepeatKey = ""
		_, err = q.AddRepeating(ctx, opts)
		assert.Error(t, err)
	})
}

func TestQueue_RemoveIsIdempotent(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx := context.Background()

		_, err := q.AddRepeating(ctx, repeatFor("a", "* * * * *"))
		require.NoError(t, err)

		require.NoError(t, q.RemoveRepeatingByKey(ctx, RepeatKey("a")))
		require.NoError(t, q.RemoveRepeatingByKey(ctx, RepeatKey("a")))
		require.NoError(t, q.RemoveRepeatingByKey(ctx, "never-added"))

		keys, err := q.ListRepeatingKeys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestQueue_PromoteReserveComplete(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		_, err := q.AddRepeating(ctx, repeatFor("a", "* * * * *"))
		require.NoError(t, err)

		job, err := q.Reserve(ctx, 0)
		require.NoError(t, err)
		assert.Nil(t, job, "nothing is due yet")

		later := time.Now().Add(2 * time.Minute)
		n, err := q.PromoteDue(ctx, later)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = q.PromoteDue(ctx, later)
		require.NoError(t, err)
		assert.Equal(t, 0, n, "a firing is promoted once")

		job, err = q.Reserve(ctx, 0)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, JobProcessIntegration, job.Name)
		assert.Equal(t, "a", job.Payload.IntegrationID)
		assert.Equal(t, RepeatKey("a"), job.RepeatKey)
		assert.Equal(t, 1, job.Attempt)

		require.NoError(t, q.Complete(ctx, job))

		job, err = q.Reserve(ctx, 0)
		require.NoError(t, err)
		assert.Nil(t, job)
	})
}

func TestQueue_RemovedKeyIsNotPromoted(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		_, err := q.AddRepeating(ctx, repeatFor("a", "* * * * *"))
		require.NoError(t, err)
		require.NoError(t, q.RemoveRepeatingByKey(ctx, RepeatKey("a")))

		n, err := q.PromoteDue(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestQueue_RetryBumpsAttempt(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		_, err := q.AddRepeating(ctx, repeatFor("a", "0 0 1 1 *"))
		require.NoError(t, err)
		_, err = q.PromoteDue(ctx, time.Now().Add(400*24*time.Hour))
		require.NoError(t, err)

		job, err := q.Reserve(ctx, 0)
		require.NoError(t, err)
		require.NotNil(t, job)

		require.NoError(t, q.Retry(ctx, job, time.Minute))

		n, err := q.PromoteDue(ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 0, n, "retry is not due yet")

		n, err = q.PromoteDue(ctx, time.Now().Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		retried, err := q.Reserve(ctx, 0)
		require.NoError(t, err)
		require.NotNil(t, retried)
		assert.Equal(t, job.ID, retried.ID)
		assert.Equal(t, 2, retried.Attempt)
	})
}

func TestRedisQueue_SecondPromoterFindsNothing(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()
	first := NewRedisQueue(client, Name)
	second := NewRedisQueue(client, Name)

	_, err := first.AddRepeating(ctx, repeatFor("a", "* * * * *"))
	require.NoError(t, err)

	now := time.Now().Add(2 * time.Minute)
	n1, err := first.PromoteDue(ctx, now)
	require.NoError(t, err)
	n2, err := second.PromoteDue(ctx, now)
	require.NoError(t, err)

	assert.Equal(t, 1, n1+n2)
	assert.Equal(t, int64(1), client.LLen(ctx, "queue:integrations:wait").Val())
}

// failOnce fails the first command with the given name and lets everything else through.
type failOnce struct {
	name   string
	failed atomic.Bool
}

func (h *failOnce) DialHook(next goredis.DialHook) goredis.DialHook { return next }

func (h *failOnce) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		if cmd.Name() == h.name && h.failed.CompareAndSwap(false, true) {
			err := errors.New("connection reset")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (h *failOnce) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return next
}

func TestRedisQueue_FailedPromotionKeepsRepeatScheduled(t *testing.T) {
	for _, name := range []string{"hget", "evalsha"} {
		t.Run(name, func(t *testing.T) {
			_, client := setupMiniredis(t)
			ctx := context.Background()
			q := NewRedisQueue(client, Name)

			_, err := q.AddRepeating(ctx, repeatFor("a", "* * * * *"))
			require.NoError(t, err)

			hook := &failOnce{name: name}
			client.AddHook(hook)

			later := time.Now().Add(2 * time.Minute)
			_, err = q.PromoteDue(ctx, later)
			require.Error(t, err)
			require.True(t, hook.failed.Load())

			keys, err := q.ListRepeatingKeys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{RepeatKey("a")}, keys)

			n, err := q.PromoteDue(ctx, later)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			job, err := q.Reserve(ctx, 0)
			require.NoError(t, err)
			require.NotNil(t, job)
			assert.Equal(t, "a", job.Payload.IntegrationID)
		})
	}
}

func TestRedisQueue_FailedRetryPromotionKeepsJob(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()
	q := NewRedisQueue(client, Name)

	job := &Job{ID: "integration-a-jobId:1", Name: JobProcessIntegration, Payload: Payload{IntegrationID: "a"}, Attempt: 1}
	require.NoError(t, q.Retry(ctx, job, time.Minute))

	hook := &failOnce{name: "evalsha"}
	client.AddHook(hook)

	later := time.Now().Add(2 * time.Minute)
	_, err := q.PromoteDue(ctx, later)
	require.Error(t, err)

	n, err := q.PromoteDue(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	retried, err := q.Reserve(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, 2, retried.Attempt)
}

func TestRedisQueue_StaleFiringIsNotEnqueued(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()
	q := NewRedisQueue(client, Name)

	_, err := q.AddRepeating(ctx, repeatFor("a", "* * * * *"))
	require.NoError(t, err)
	score := client.ZScore(ctx, "queue:integrations:schedule", RepeatKey("a")).Val()

	// Another promoter already advanced the entry past the score read as due.
	fired, err := promoteFiring.Run(ctx, client,
		[]string{"queue:integrations:schedule", "queue:integrations:wait"},
		RepeatKey("a"), "1000", "2000", "{}").Int()
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
	assert.Zero(t, client.LLen(ctx, "queue:integrations:wait").Val())
	assert.Equal(t, score, client.ZScore(ctx, "queue:integrations:schedule", RepeatKey("a")).Val())
}

func TestRedisQueue_UnscheduledDefinitionIsReportedMissing(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()
	q := NewRedisQueue(client, Name)

	_, err := q.AddRepeating(ctx, repeatFor("a", "* * * * *"))
	require.NoError(t, err)
	require.NoError(t, client.ZRem(ctx, "queue:integrations:schedule", RepeatKey("a")).Err())

	keys, err := q.ListRepeatingKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Re-adding repairs the schedule entry.
	_, err = q.AddRepeating(ctx, repeatFor("a", "* * * * *"))
	require.NoError(t, err)
	keys, err = q.ListRepeatingKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{RepeatKey("a")}, keys)

	n, err := q.PromoteDue(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisQueue_ReserveTracksActive(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()
	q := NewRedisQueue(client, Name)

	_, err := q.AddRepeating(ctx, repeatFor("a", "* * * * *"))
	require.NoError(t, err)
	_, err = q.PromoteDue(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)

	job, err := q.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, int64(1), client.HLen(ctx, "queue:integrations:active").Val())

	require.NoError(t, q.Complete(ctx, job))
	assert.Equal(t, int64(0), client.HLen(ctx, "queue:integrations:active").Val())
}

func TestMemoryQueue_ReserveWakesOnPromotion(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	_, err := q.AddRepeating(ctx, repeatFor("a", "* * * * *"))
	require.NoError(t, err)

	got := make(chan *Job, 1)
	go func() {
		job, _ := q.Reserve(ctx, 5*time.Second)
		got <- job
	}()

	time.Sleep(20 * time.Millisecond)
	_, err = q.PromoteDue(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)

	select {
	case job := <-got:
		require.NotNil(t, job)
		assert.Equal(t, 1, q.Active())
	case <-time.After(2 * time.Second):
		t.Fatal("Reserve did not wake up")
	}
}

func TestMemoryQueue_ReserveHonoursContext(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, err := q.Reserve(ctx, time.Minute)
	assert.Nil(t, job)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFromConfig(t *testing.T) {
	q, err := NewFromConfig("", "", 0)
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	q, err = NewFromConfig("127.0.0.1:1", "", 0)
	assert.Error(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	mr, _ := setupMiniredis(t)
	q, err = NewFromConfig(mr.Addr(), "", 0)
	require.NoError(t, err)
	assert.IsType(t, &RedisQueue{}, q)
	require.NoError(t, q.Close())
}
