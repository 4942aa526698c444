package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/genreswap/internal/model"
)

const maxTxRetries = 10

// RedisRegistry stores jobs as JSON documents so several API and worker
// processes can share one view. Replace uses WATCH/MULTI for optimistic
// concurrency across processes and a keyed mutex within the process.
type RedisRegistry struct {
	rdb    *redis.Client
	prefix string
	opts   Options
	locks  *keyedMutex
}

func NewRedisRegistry(rdb *redis.Client, prefix string, opts Options) *RedisRegistry {
	if prefix == "" {
		prefix = "genreswap"
	}
	return &RedisRegistry{
		rdb:    rdb,
		prefix: prefix,
		opts:   opts.withDefaults(),
		locks:  newKeyedMutex(),
	}
}

func (r *RedisRegistry) jobKey(id string) string { return r.prefix + ":job:" + id }
func (r *RedisRegistry) activeKey() string      { return r.prefix + ":jobs:active" }
func (r *RedisRegistry) terminalKey() string    { return r.prefix + ":jobs:terminal" }

func (r *RedisRegistry) Create(ctx context.Context, params model.JobParams) (*model.Job, error) {
	job := newJob(r.opts.NewID(), params, r.opts.Now())

	unlock := r.locks.Lock(job.ID)
	defer unlock()

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	created, err := r.rdb.SetNX(ctx, r.jobKey(job.ID), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("job id %s already exists", job.ID)
	}
	if err := r.rdb.SAdd(ctx, r.activeKey(), job.ID).Err(); err != nil {
		return nil, fmt.Errorf("failed to index job: %w", err)
	}

	r.opts.publish(ctx, job)
	return job.Clone(), nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (*model.Job, error) {
	data, err := r.rdb.Get(ctx, r.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return decodeJob(data)
}

func (r *RedisRegistry) Replace(ctx context.Context, id string, fn Mutator) (*model.Job, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	key := r.jobKey(id)
	var (
		result  *model.Job
		applied bool
	)

	txf := func(tx *redis.Tx) error {
		applied = false
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to get job: %w", err)
		}
		prev, err := decodeJob(data)
		if err != nil {
			return err
		}

		next, changed, err := applyMutation(prev, fn, r.opts.Now())
		if err != nil {
			return err
		}
		if !changed {
			r.opts.Logger.Debug("ignoring mutation of terminal job", "job_id", id, "status", prev.Status)
			result = prev
			return nil
		}

		out, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			if next.Status.IsTerminal() {
				pipe.SRem(ctx, r.activeKey(), id)
				pipe.ZAdd(ctx, r.terminalKey(), redis.Z{
					Score:  float64(next.CompletedAt.UnixMilli()),
					Member: id,
				})
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		applied = true
		return nil
	}

	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = r.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.opts.Logger.Warn("job mutation rejected", "job_id", id, "error", err)
		}
		return nil, err
	}

	if applied {
		r.opts.publish(ctx, result)
	}
	return result.Clone(), nil
}

func (r *RedisRegistry) ListActive(ctx context.Context) ([]*model.Job, error) {
	ids, err := r.rdb.SMembers(ctx, r.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	if len(ids) == 0 {
		return []*model.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.jobKey(id)
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load active jobs: %w", err)
	}

	jobs := make([]*model.Job, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		job, err := decodeJob([]byte(s))
		if err != nil || job.Status.IsTerminal() {
			continue
		}
		jobs = append(jobs, job)
	}
	sortByCreated(jobs)
	return jobs, nil
}

func (r *RedisRegistry) EvictTerminalOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := r.opts.Now().Add(-age).UnixMilli()
	ids, err := r.rdb.ZRangeByScore(ctx, r.terminalKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list terminal jobs: %w", err)
	}

	evicted := 0
	for _, id := range ids {
		pipe := r.rdb.TxPipeline()
		pipe.Del(ctx, r.jobKey(id))
		pipe.ZRem(ctx, r.terminalKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return evicted, fmt.Errorf("failed to evict job %s: %w", id, err)
		}
		evicted++
	}
	return evicted, nil
}

func decodeJob(data []byte) (*model.Job, error) {
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
