// Package publish mirrors committed screener rows into Redis for read-heavy
// consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"screener-engine/src/models"

	"github.com/redis/go-redis/v9"
)

const (
	rowKeyPrefix = "screener:row:"
	updatedKey   = "screener:updated"
)

// RowKey is the key a row is stored under.
func RowKey(symbol string) string {
	return rowKeyPrefix + symbol
}

// RedisPublisher writes each row as JSON with a TTL and scores the symbol by
// its snapshot time in a sorted set.
type RedisPublisher struct {
	client *redis.Client
	ttl    time.Duration
}

// -----------------------------------------------------------------------------

// NewRedisPublisher connects and pings Redis.
func NewRedisPublisher(cfg models.MCacheConfig, ttl time.Duration) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPublisher{client: client, ttl: ttl}, nil
}

// -----------------------------------------------------------------------------

// PublishRows writes every row in one pipeline.
func (p *RedisPublisher) PublishRows(ctx context.Context, rows []models.MScreenerRow) error {
	if len(rows) == 0 {
		return nil
	}

	pipe := p.client.Pipeline()
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode %s: %w", row.Symbol, err)
		}
		pipe.Set(ctx, RowKey(row.Symbol), data, p.ttl)
		pipe.ZAdd(ctx, updatedKey, redis.Z{
			Score:  float64(row.SnapshotAt.Unix()),
			Member: row.Symbol,
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}

// -----------------------------------------------------------------------------

// GetRow reads a mirrored row; nil when absent or expired.
func (p *RedisPublisher) GetRow(ctx context.Context, symbol string) (*models.MScreenerRow, error) {
	data, err := p.client.Get(ctx, RowKey(symbol)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var row models.MScreenerRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

// -----------------------------------------------------------------------------

// UpdatedSince lists symbols whose mirrored row was computed at or after t.
func (p *RedisPublisher) UpdatedSince(ctx context.Context, t time.Time) ([]string, error) {
	return p.client.ZRangeByScore(ctx, updatedKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", t.Unix()),
		Max: "+inf",
	}).Result()
}

// -----------------------------------------------------------------------------

func (p *RedisPublisher) RemoveRow(ctx context.Context, symbol string) error {
	pipe := p.client.TxPipeline()
	pipe.Del(ctx, RowKey(symbol))
	pipe.ZRem(ctx, updatedKey, symbol)
	_, err := pipe.Exec(ctx)
	return err
}

// -----------------------------------------------------------------------------

// Close closes the cache connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
