package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix prefixes the hash key of every job.
const DefaultKeyPrefix = "streamsheet:job:"

const (
	fieldID              = "jobId"
	fieldStatus          = "status"
	fieldResultURI       = "resultUri"
	fieldErrorMessage    = "errorMessage"
	fieldRowsWritten     = "rowsWritten"
	fieldBatchesFlushed  = "batchesFlushed"
	fieldCancelRequested = "cancelRequested"
	fieldCreatedAt       = "createdAt"
	fieldCompletedAt     = "completedAt"
)

// updateScript writes fields only while the job hash exists, so an update
// racing the key's expiry cannot leave a hash without a status behind.
// ARGV[1] is the TTL in milliseconds, the rest are field/value pairs.
var updateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 2))
redis.call("PEXPIRE", KEYS[1], ARGV[1])
return 1
`)

// RedisStore keeps each job in a Redis hash so that concurrent field updates
// from workers and cancel requests never overwrite each other. Every write
// refreshes the key's TTL.
type RedisStore struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewRedisStore creates a store on rdb. Empty prefix and zero retention
// take defaults.
func NewRedisStore(rdb redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{rdb: rdb, prefix: prefix, retention: retention, now: time.Now}
}

func (s *RedisStore) Create(ctx context.Context) (*Job, error) {
	now := s.now().UTC()
	job := &Job{ID: uuid.NewString(), Status: StatusReady, CreatedAt: now}
	err := s.write(ctx, job.ID, map[string]any{
		fieldID:              job.ID,
		fieldStatus:          string(StatusReady),
		fieldRowsWritten:     "0",
		fieldBatchesFlushed:  "0",
		fieldCancelRequested: "false",
		fieldCreatedAt:       now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decodeJob(id, fields)
}

func (s *RedisStore) UpdateStatus(ctx context.Context, id string, status Status, resultURI, errMsg string) error {
	values := map[string]any{fieldStatus: string(status), fieldCompletedAt: ""}
	if resultURI != "" {
		values[fieldResultURI] = resultURI
	}
	if errMsg != "" {
		values[fieldErrorMessage] = errMsg
	}
	if status.Terminal() {
		values[fieldCompletedAt] = s.now().UTC().Format(time.RFC3339Nano)
	}
	return s.update(ctx, id, values)
}

func (s *RedisStore) UpdateProgress(ctx context.Context, id string, rows, batches int64) error {
	return s.update(ctx, id, map[string]any{
		fieldRowsWritten:    strconv.FormatInt(rows, 10),
		fieldBatchesFlushed: strconv.FormatInt(batches, 10),
	})
}

func (s *RedisStore) RequestCancel(ctx context.Context, id string) error {
	return s.update(ctx, id, map[string]any{fieldCancelRequested: "true"})
}

func (s *RedisStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	v, err := s.rdb.HGet(ctx, s.key(id), fieldCancelRequested).Result()
	if errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("get job %s: %w", id, err)
	}
	return v == "true", nil
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) update(ctx context.Context, id string, values map[string]any) error {
	fields := make([]string, 0, len(values))
	for f := range values {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	args := make([]any, 0, 1+2*len(fields))
	args = append(args, s.retention.Milliseconds())
	for _, f := range fields {
		args = append(args, f, values[f])
	}

	n, err := updateScript.Run(ctx, s.rdb, []string{s.key(id)}, args...).Int()
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *RedisStore) write(ctx context.Context, id string, values map[string]any) error {
	key := s.key(id)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, s.retention)
		return nil
	})
	return err
}

func decodeJob(id string, fields map[string]string) (*Job, error) {
	status, err := ParseStatus(fields[fieldStatus])
	if err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	job := &Job{
		ID:              id,
		Status:          status,
		ResultURI:       fields[fieldResultURI],
		ErrorMessage:    fields[fieldErrorMessage],
		CancelRequested: fields[fieldCancelRequested] == "true",
	}
	job.RowsWritten, _ = strconv.ParseInt(fields[fieldRowsWritten], 10, 64)
	job.BatchesFlushed, _ = strconv.ParseInt(fields[fieldBatchesFlushed], 10, 64)
	if v := fields[fieldCreatedAt]; v != "" {
		if job.CreatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("decode job %s: created at: %w", id, err)
		}
	}
	if v := fields[fieldCompletedAt]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode job %s: completed at: %w", id, err)
		}
		job.CompletedAt = &t
	}
	return job, nil
}
