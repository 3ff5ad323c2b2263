package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps recurring jobs in Redis:
//
//	<prefix>:repeat    hash  repeat key -> RepeatOptions JSON
//	<prefix>:schedule  zset  repeat key, scored by next fire (unix ms)
//	<prefix>:wait      list  Job JSON ready to run
//	<prefix>:delayed   zset  Job JSON waiting for a retry, scored by due time
//	<prefix>:active    hash  job id -> Job JSON while reserved
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// promoteFiring enqueues one firing and advances its schedule entry, but only while the
// entry still holds the score that was read as due. Another promoter that got there first
// has already moved the score, so the firing is never enqueued twice, and the entry is
// never left unscheduled.
//
//	KEYS[1] schedule zset, KEYS[2] wait list
//	ARGV[1] repeat key, ARGV[2] due score, ARGV[3] next score, ARGV[4] job JSON
var promoteFiring = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or tonumber(score) ~= tonumber(ARGV[2]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
redis.call('LPUSH', KEYS[2], ARGV[4])
return 1
`)

// promoteDelayed moves one retry from the delayed set to the wait list if it is still there.
var promoteDelayed = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

func NewRedisQueue(client *redis.Client, name string) *RedisQueue {
	return &RedisQueue{client: client, prefix: "queue:" + name}
}

func (q *RedisQueue) key(part string) string {
	return q.prefix + ":" + part
}

func (q *RedisQueue) AddRepeating(ctx context.Context, opts RepeatOptions) (string, error) {
	schedule, err := validateRepeat(opts)
	if err != nil {
		return "", err
	}
	def, err := json.Marshal(opts)
	if err != nil {
		return "", err
	}

	// NX on both keeps an existing definition and next-fire time, and repairs a
	// definition left without one.
	pipe := q.client.TxPipeline()
	pipe.HSetNX(ctx, q.key("repeat"), opts.RepeatKey, def)
	pipe.ZAddNX(ctx, q.key("schedule"), redis.Z{
		Score:  float64(schedule.Next(time.Now()).UnixMilli()),
		Member: opts.RepeatKey,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", errors.Wrapf(err, "add repeat %s", opts.RepeatKey)
	}
	return opts.RepeatKey, nil
}

func (q *RedisQueue) RemoveRepeatingByKey(ctx context.Context, key string) error {
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.key("repeat"), key)
	pipe.ZRem(ctx, q.key("schedule"), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "remove repeat %s", key)
	}
	return nil
}

// ListRepeatingKeys reports keys that are both defined and scheduled. A definition
// without a schedule entry never fires, so it is left out for reconciliation to re-add.
func (q *RedisQueue) ListRepeatingKeys(ctx context.Context) ([]string, error) {
	defined, err := q.client.HKeys(ctx, q.key("repeat")).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list repeat keys")
	}
	scheduled, err := q.client.ZRange(ctx, q.key("schedule"), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list scheduled keys")
	}
	inSchedule := make(map[string]bool, len(scheduled))
	for _, k := range scheduled {
		inSchedule[k] = true
	}
	keys := make([]string, 0, len(defined))
	for _, k := range defined {
		if inSchedule[k] {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	upTo := strconv.FormatInt(now.UnixMilli(), 10)
	promoted := 0

	due, err := q.client.ZRangeByScoreWithScores(ctx, q.key("schedule"), &redis.ZRangeBy{Min: "-inf", Max: upTo}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "read schedule")
	}
	var skipped error
	for _, z := range due {
		key, _ := z.Member.(string)
		raw, err := q.client.HGet(ctx, q.key("repeat"), key).Result()
		if errors.Is(err, redis.Nil) {
			// Scheduled without a definition: nothing to fire.
			q.client.ZRem(ctx, q.key("schedule"), key)
			continue
		}
		if err != nil {
			return promoted, errors.Wrap(err, "read repeat definition")
		}
		var opts RepeatOptions
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			skipped = errors.CombineErrors(skipped, errors.Wrapf(err, "decode repeat definition %s", key))
			continue
		}
		schedule, err := validateRepeat(opts)
		if err != nil {
			skipped = errors.CombineErrors(skipped, errors.Wrapf(err, "repeat definition %s", key))
			continue
		}

		firedAt := time.UnixMilli(int64(z.Score))
		job, err := json.Marshal(newJob(opts, firedAt))
		if err != nil {
			return promoted, err
		}
		fired, err := promoteFiring.Run(ctx, q.client,
			[]string{q.key("schedule"), q.key("wait")},
			key,
			strconv.FormatInt(firedAt.UnixMilli(), 10),
			strconv.FormatInt(schedule.Next(now).UnixMilli(), 10),
			string(job),
		).Int()
		if err != nil {
			return promoted, errors.Wrap(err, "enqueue firing")
		}
		if fired == 1 {
			promoted++
		}
	}

	delayed, err := q.client.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{Min: "-inf", Max: upTo}).Result()
	if err != nil {
		return promoted, errors.Wrap(err, "read delayed jobs")
	}
	for _, job := range delayed {
		moved, err := promoteDelayed.Run(ctx, q.client,
			[]string{q.key("delayed"), q.key("wait")}, job).Int()
		if err != nil {
			return promoted, errors.Wrap(err, "enqueue delayed job")
		}
		if moved == 1 {
			promoted++
		}
	}
	return promoted, skipped
}

func (q *RedisQueue) Reserve(ctx context.Context, wait time.Duration) (*Job, error) {
	var (
		raw string
		err error
	)
	if wait <= 0 {
		raw, err = q.client.RPop(ctx, q.key("wait")).Result()
	} else {
		var res []string
		res, err = q.client.BRPop(ctx, wait, q.key("wait")).Result()
		if err == nil {
			raw = res[1]
		}
	}
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reserve job")
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, errors.Wrap(err, "decode job")
	}
	if err := q.client.HSet(ctx, q.key("active"), job.ID, raw).Err(); err != nil {
		return nil, errors.Wrap(err, "mark job active")
	}
	return &job, nil
}

func (q *RedisQueue) Complete(ctx context.Context, job *Job) error {
	return q.client.HDel(ctx, q.key("active"), job.ID).Err()
}

func (q *RedisQueue) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	next := *job
	next.Attempt++
	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.key("active"), job.ID)
	pipe.ZAdd(ctx, q.key("delayed"), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: string(raw),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "retry job %s", job.ID)
	}
	return nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
