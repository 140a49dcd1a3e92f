// Package queue coordinates the ready and in-flight sets for background
// search fetches in Redis. The API process enqueues search IDs; the
// dispatcher consumes them with a visibility timeout so a crashed consumer's
// work is reclaimed.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FetchQueue is the Redis-backed dispatch channel between the request path
// and the background fetch loop.
type FetchQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	visibilityTTL time.Duration
}

// NewFetchQueue builds a queue over an existing Redis client.
func NewFetchQueue(client *redis.Client, visibility time.Duration) *FetchQueue {
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &FetchQueue{
		client:        client,
		readyKey:      "fetch:ready",
		inflightKey:   "fetch:inflight",
		visibilityTTL: visibility,
	}
}

// Dispatch implements the lifecycle dispatcher contract.
func (q *FetchQueue) Dispatch(ctx context.Context, searchID string) error {
	return q.client.RPush(ctx, q.readyKey, searchID).Err()
}

// DequeueWithLease pops a search ID from the ready list and places it into
// the in-flight set with a visibility deadline. Empty string means no work.
func (q *FetchQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	searchID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return searchID, nil
}

// Ack removes a search from in-flight tracking.
func (q *FetchQueue) Ack(ctx context.Context, searchID string) error {
	return q.client.ZRem(ctx, q.inflightKey, searchID).Err()
}

// RequeueExpired reclaims leases that timed out, re-enqueuing the search IDs.
func (q *FetchQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
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
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Depth returns the number of searches waiting for a fetch.
func (q *FetchQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if id then
  redis.call('ZADD', KEYS[2], ARGV[1], id)
  return id
end
return nil
`)
