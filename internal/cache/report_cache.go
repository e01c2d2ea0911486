package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scormetry/scormetry/internal/grading"
)

// ReportCache keeps preview score reports in Redis.
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ReportCache{client: client, ttl: ttl}
}

func (c *ReportCache) key(k string) string {
	return fmt.Sprintf("report:%s", k)
}

func (c *ReportCache) Get(ctx context.Context, k string) (*grading.ScoreReport, bool, error) {
	data, err := c.client.Get(ctx, c.key(k)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rep grading.ScoreReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, false, err
	}
	return &rep, true, nil
}

func (c *ReportCache) Set(ctx context.Context, k string, rep *grading.ScoreReport) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(k), data, c.ttl).Err()
}

// Connect dials Redis and verifies it answers a PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}
