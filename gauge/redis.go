package gauge

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher mirrors aggregated overviews into Redis so other
// processes can read current stats without calling the API.
//
// Keys:
//
//	<prefix>:overview          JSON-encoded Overview
//	<prefix>:stats:<metric>    hash of count, mean, min, max, p95, latest, last_seen
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPublisher connects lazily to the configured Redis server.
func NewRedisPublisher(cfg RedisConfig) *RedisPublisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisPublisher(rdb, cfg.Prefix, cfg.TTL)
}

func newRedisPublisher(rdb *redis.Client, prefix string, ttl time.Duration) *RedisPublisher {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "gauge"
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (p *RedisPublisher) overviewKey() string {
	return p.prefix + ":overview"
}

func (p *RedisPublisher) statsKey(metric string) string {
	return p.prefix + ":stats:" + metric
}

// Publish writes the overview and one hash per metric in a single pipeline.
func (p *RedisPublisher) Publish(ctx context.Context, o *Overview) error {
	if p == nil || p.rdb == nil || o == nil {
		return nil
	}

	data, err := json.Marshal(o)
	if err != nil {
		return err
	}

	pipe := p.rdb.Pipeline()
	pipe.Set(ctx, p.overviewKey(), data, p.ttl)
	for _, m := range o.Metrics {
		key := p.statsKey(m.Name)
		pipe.HSet(ctx, key, statsFields(m))
		if p.ttl > 0 {
			pipe.Expire(ctx, key, p.ttl)
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

func statsFields(m MetricSummary) map[string]interface{} {
	fields := map[string]interface{}{
		"status": string(m.Status),
		"count":  m.Count,
		"mean":   formatFloat(m.Mean),
		"min":    formatFloat(m.Min),
		"max":    formatFloat(m.Max),
		"p95":    formatFloat(m.P95),
		"latest": formatFloat(m.LatestValue),
	}
	if !m.LastSeen.IsZero() {
		fields["last_seen"] = m.LastSeen.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// FetchOverview reads back the last published overview.
func (p *RedisPublisher) FetchOverview(ctx context.Context) (*Overview, error) {
	if p == nil || p.rdb == nil {
		return nil, nil
	}
	data, err := p.rdb.Get(ctx, p.overviewKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var o Overview
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Ping checks the Redis connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Ping(ctx).Err()
}

// Close releases the client.
func (p *RedisPublisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}
