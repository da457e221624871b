package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const listKey = "ragcore:ingest:jobs"

// RedisQueue implements Port over a Redis list with RPUSH/BLPOP.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue parses url (redis://...) and verifies connectivity.
func NewRedisQueue(ctx context.Context, url string) (*RedisQueue, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisQueue{client: client}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.RPush(ctx, listKey, payload).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	result, err := q.client.BLPop(ctx, 0*time.Second, listKey).Result()
	if err != nil {
		return Job{}, err
	}
	if len(result) < 2 {
		return Job{}, fmt.Errorf("unexpected BLPOP result shape")
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, nil
}

func (q *RedisQueue) Close() error { return q.client.Close() }

var _ Port = (*RedisQueue)(nil)
