package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"cognispeech/internal/models"
)

// Redis key naming. All keys are prefixed with "cognispeech:" to avoid
// collisions with other tenants of the same instance.
const redisKeyPrefix = "cognispeech:"

func redisJobKey(id string) string { return redisKeyPrefix + "job:" + id }

func redisStateKey(state models.JobState) string {
	return redisKeyPrefix + "jobs:" + string(state)
}

func redisLogicalKey(logicalID string) string {
	return redisKeyPrefix + "logical:" + logicalID
}

func redisAttemptsKey(logicalID string) string {
	return redisKeyPrefix + "attempts:" + logicalID
}

// redisIdempotencyKey is the Hash mapping idempotency keys to job ids.
const redisIdempotencyKey = redisKeyPrefix + "idempotency"

// createScript inserts a job only if its id, idempotency key and
// (logical id, attempt) slot are all unclaimed.
// KEYS: job, idempotency hash, attempts hash, state set, logical set.
// ARGV: job JSON, id, idempotency key ("" for none), attempt.
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return "ID"
end
if ARGV[3] ~= "" and redis.call("HSETNX", KEYS[2], ARGV[3], ARGV[2]) == 0 then
  return "KEY"
end
if redis.call("HSETNX", KEYS[3], ARGV[4], ARGV[2]) == 0 then
  if ARGV[3] ~= "" then
    redis.call("HDEL", KEYS[2], ARGV[3])
  end
  return "ATTEMPT"
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SADD", KEYS[4], ARGV[2])
redis.call("SADD", KEYS[5], ARGV[2])
return "OK"
`)

// transitionScript rewrites a job only while its stored state still equals
// the expected state, and moves it between the per-state sets.
// KEYS: job, from-state set, to-state set. ARGV: expected state, new JSON, id.
var transitionScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return {"MISSING", ""}
end
local job = cjson.decode(raw)
if job.state ~= ARGV[1] then
  return {"CONFLICT", job.state}
end
redis.call("SET", KEYS[1], ARGV[2])
redis.call("SMOVE", KEYS[2], KEYS[3], ARGV[3])
return {"OK", ""}
`)

// Redis implements Store on a Redis instance. Jobs are stored as JSON
// blobs with per-state and per-logical-id index sets; creates and
// transitions run as Lua scripts so their checks and writes are atomic.
type Redis struct {
	client *redis.Client
}

var _ Store = (*Redis)(nil)

// NewRedis connects to the Redis instance at addr.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// Close releases the client's connections.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Ping verifies the instance is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// CreateJob persists a new attempt record.
func (r *Redis) CreateJob(ctx context.Context, job *models.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	keys := []string{
		redisJobKey(job.ID),
		redisIdempotencyKey,
		redisAttemptsKey(job.LogicalID),
		redisStateKey(job.State),
		redisLogicalKey(job.LogicalID),
	}
	status, err := createScript.Run(ctx, r.client, keys,
		string(raw), job.ID, job.IdempotencyKey, strconv.Itoa(job.Attempt),
	).Text()
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	switch status {
	case "OK":
		return nil
	case "ID":
		return fmt.Errorf("%w: id %s", ErrAlreadyExists, job.ID)
	case "KEY":
		return fmt.Errorf("%w: idempotency key %s", ErrAlreadyExists, job.IdempotencyKey)
	case "ATTEMPT":
		return fmt.Errorf("%w: attempt %d of logical job %s", ErrAlreadyExists, job.Attempt, job.LogicalID)
	default:
		return fmt.Errorf("failed to create job: unexpected script reply %q", status)
	}
}

// GetJobByID retrieves a job by id.
func (r *Redis) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	raw, err := r.client.Get(ctx, redisJobKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// GetJobByIdempotencyKey retrieves the job created under key, or
// (nil, nil) when no such submission exists.
func (r *Redis) GetJobByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	id, err := r.client.HGet(ctx, redisIdempotencyKey, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return r.GetJobByID(ctx, id)
}

// Transition atomically applies a compare-and-set state change. The job
// JSON is rebuilt from a read snapshot; the script only installs it while
// the stored state still matches, and states never repeat within one
// record, so a stale snapshot can never be written.
func (r *Redis) Transition(ctx context.Context, id string, expected, next models.JobState, change Change) (*models.Job, error) {
	if err := ValidateTransition(expected, next, change); err != nil {
		return nil, err
	}

	job, err := r.GetJobByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != expected {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", ErrConflict, id, job.State, expected)
	}

	job.State = next
	if change.Result != nil {
		res := *change.Result
		job.Result = &res
	}
	if change.Failure != nil {
		f := *change.Failure
		job.Failure = &f
	}
	job.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	keys := []string{redisJobKey(id), redisStateKey(expected), redisStateKey(next)}
	reply, err := transitionScript.Run(ctx, r.client, keys, string(expected), string(raw), id).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to transition job: %w", err)
	}
	if len(reply) != 2 {
		return nil, fmt.Errorf("failed to transition job: unexpected script reply %v", reply)
	}

	switch reply[0] {
	case "OK":
		return job, nil
	case "MISSING":
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case "CONFLICT":
		return nil, fmt.Errorf("%w: job %s is %v, expected %s", ErrConflict, id, reply[1], expected)
	default:
		return nil, fmt.Errorf("failed to transition job: unexpected script reply %v", reply)
	}
}

// ListJobsByState returns jobs in the given state, oldest first.
func (r *Redis) ListJobsByState(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error) {
	ids, err := r.client.SMembers(ctx, redisStateKey(state)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs, err := r.collectJobs(ctx, ids)
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// ListJobsByLogicalID returns every attempt of a logical job in ascending
// attempt order.
func (r *Redis) ListJobsByLogicalID(ctx context.Context, logicalID string) ([]*models.Job, error) {
	ids, err := r.client.SMembers(ctx, redisLogicalKey(logicalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	jobs, err := r.collectJobs(ctx, ids)
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].Attempt < jobs[k].Attempt
	})
	return jobs, nil
}

// CountJobsByState returns the number of jobs per state.
func (r *Redis) CountJobsByState(ctx context.Context) (map[models.JobState]int64, error) {
	states := []models.JobState{
		models.StatePending,
		models.StateProcessing,
		models.StateComplete,
		models.StateFailed,
	}

	counts := make(map[models.JobState]int64, len(states))
	for _, state := range states {
		n, err := r.client.SCard(ctx, redisStateKey(state)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to count jobs: %w", err)
		}
		if n > 0 {
			counts[state] = n
		}
	}
	return counts, nil
}

func (r *Redis) collectJobs(ctx context.Context, ids []string) ([]*models.Job, error) {
	jobs := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := r.GetJobByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // index can briefly lead the blob during cleanup
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
