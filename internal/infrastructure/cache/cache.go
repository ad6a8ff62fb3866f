package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tvcwb/boardbridge/internal/infrastructure/config"
)

const (
	keyPrefix = "reading:last:"

	defaultTTL         = 24 * time.Hour
	defaultPingTimeout = 5 * time.Second
)

// Reading is the latest value of one sensor.
type Reading struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Cache keeps the latest scaled reading per board and sensor in Redis.
// Entries expire so sensors that stop reporting drop out.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// Connect creates the Redis client and pings it.
func Connect(ctx context.Context, cfg config.CacheConfig) (*Cache, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.Addr, err)
	}

	ttl := time.Duration(cfg.TTL) * time.Second
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}, nil
}

// Close closes the client. Safe on a nil Cache.
func (c *Cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// HealthCheck pings Redis.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SetLatestReading overwrites the cached reading of a sensor.
func (c *Cache) SetLatestReading(ctx context.Context, mac, sensorID string, r Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding reading: %w", err)
	}
	if err := c.rdb.Set(ctx, Key(mac, sensorID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching reading for %s/%s: %w", mac, sensorID, err)
	}
	return nil
}

// LatestReadings returns the cached readings of the given sensors on a
// board. Sensors without a live entry are absent from the map.
func (c *Cache) LatestReadings(ctx context.Context, mac string, sensorIDs []string) (map[string]Reading, error) {
	out := make(map[string]Reading, len(sensorIDs))
	if len(sensorIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(sensorIDs))
	for i, id := range sensorIDs {
		keys[i] = Key(mac, id)
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reading cache for %s: %w", mac, err)
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		r, err := decodeReading(s)
		if err != nil {
			// A corrupt entry is treated as missing; the next reading replaces it.
			continue
		}
		out[sensorIDs[i]] = r
	}
	return out, nil
}

// Key returns the Redis key for a sensor's latest reading.
func Key(mac, sensorID string) string {
	return keyPrefix + mac + ":" + sensorID
}

func decodeReading(s string) (Reading, error) {
	var r Reading
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Reading{}, err
	}
	return r, nil
}
