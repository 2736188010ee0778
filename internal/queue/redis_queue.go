// Package queue coordinates production jobs between the API and workers through Redis.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps a ready list and an in-flight lease set of production ids.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	deadKey       string
	progressKey   string
	visibilityTTL time.Duration
}

// ProgressEvent is published after each scene of a production finishes and on every status change.
type ProgressEvent struct {
	ProductionID string `json:"productionId"`
	Status       string `json:"status"`
	Completed    int    `json:"completed"`
	Total        int    `json:"total"`
	ProjectID    string `json:"projectId,omitempty"`
	Error        string `json:"error,omitempty"`
}

// NewRedisClient dials Redis with the shared connection settings.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisQueue builds a queue named name. Leases expire after visibility.
func NewRedisQueue(client *redis.Client, name string, visibility time.Duration) *RedisQueue {
	if name == "" {
		name = "productions"
	}
	if visibility == 0 {
		visibility = 30 * time.Minute
	}
	return &RedisQueue{
		client:        client,
		readyKey:      fmt.Sprintf("queue:%s:ready", name),
		inflightKey:   fmt.Sprintf("queue:%s:inflight", name),
		deadKey:       fmt.Sprintf("queue:%s:dead", name),
		progressKey:   fmt.Sprintf("queue:%s:progress:", name),
		visibilityTTL: visibility,
	}
}

// Enqueue appends a production to the ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, productionID string) error {
	return q.client.RPush(ctx, q.readyKey, productionID).Err()
}

// DequeueWithLease pops the oldest ready production and leases it for the visibility timeout.
// It returns "" when nothing is ready.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	id, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return id, nil
}

// ExtendLease pushes the visibility deadline of a leased production forward.
func (q *RedisQueue) ExtendLease(ctx context.Context, productionID string, extension time.Duration) error {
	return q.client.ZAddXX(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: productionID,
	}).Err()
}

// Ack releases the lease of a finished production.
func (q *RedisQueue) Ack(ctx context.Context, productionID string) error {
	return q.client.ZRem(ctx, q.inflightKey, productionID).Err()
}

// RequeueExpired moves productions whose lease ran out back to the ready list.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: limit,
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

// Cancel removes a production from both the ready list and the lease set.
func (q *RedisQueue) Cancel(ctx context.Context, productionID string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.readyKey, 0, productionID)
	pipe.ZRem(ctx, q.inflightKey, productionID)
	_, err := pipe.Exec(ctx)
	return err
}

// DeadLetter records a production abandoned mid-run for operator inspection.
func (q *RedisQueue) DeadLetter(ctx context.Context, productionID string) error {
	return q.client.RPush(ctx, q.deadKey, productionID).Err()
}

// DeadLetters lists up to count abandoned production ids, oldest first.
func (q *RedisQueue) DeadLetters(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.deadKey, 0, count-1).Result()
}

// ReadyDepth returns the number of productions waiting for a worker.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// InFlight returns the number of leased productions.
func (q *RedisQueue) InFlight(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

// PublishProgress broadcasts ev to subscribers of its production.
func (q *RedisQueue) PublishProgress(ctx context.Context, ev ProgressEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return q.client.Publish(ctx, q.progressKey+ev.ProductionID, body).Err()
}

// SubscribeProgress streams progress of one production until ctx is done.
// The subscription is live once the call returns.
func (q *RedisQueue) SubscribeProgress(ctx context.Context, productionID string) (<-chan ProgressEvent, error) {
	sub := q.client.Subscribe(ctx, q.progressKey+productionID)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe progress: %w", err)
	}
	out := make(chan ProgressEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
