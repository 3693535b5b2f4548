// Package queue hands task ids from the API process to workers through
// Redis. The ledger in Postgres stays authoritative; Redis carries only ids
// and lease deadlines.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sql-workbench/internal/config"
)

// RedisQueue coordinates the ready list and the in-flight lease set.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	visibilityTTL time.Duration
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &RedisQueue{
		client:        client,
		readyKey:      "tasks:ready",
		inflightKey:   "tasks:inflight",
		visibilityTTL: visibility,
	}
}

// Enqueue appends a task id to the ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, taskID string) error {
	return q.client.RPush(ctx, q.readyKey, taskID).Err()
}

// DequeueWithLease pops a task id from the ready list and places it into
// the in-flight set with a visibility deadline. Returns "" when the list is
// empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	taskID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return taskID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight task.
// Workers call this periodically while a long statement runs.
func (q *RedisQueue) ExtendLease(ctx context.Context, taskID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: taskID,
	}).Err()
}

// Ack removes a task from in-flight tracking after a terminal transition.
func (q *RedisQueue) Ack(ctx context.Context, taskID string) error {
	return q.client.ZRem(ctx, q.inflightKey, taskID).Err()
}

// ReapExpired removes tasks whose lease passed and returns their ids.
// Expired tasks are never re-enqueued; the caller marks each one failed in
// the ledger so no task runs twice.
func (q *RedisQueue) ReapExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// ReadyDepth returns the length of the ready list.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// InflightDepth returns the number of leased tasks.
func (q *RedisQueue) InflightDepth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

var dequeueScript = redis.NewScript(`
local task = redis.call('LPOP', KEYS[1])
if task then
  redis.call('ZADD', KEYS[2], ARGV[1], task)
  return task
end
return nil
`)
