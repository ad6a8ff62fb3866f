package bridge

import (
	"context"
	"time"

	"github.com/tvcwb/boardbridge/internal/infrastructure/cache"
	"github.com/tvcwb/boardbridge/internal/registry"
)

// TimeSeriesWriter is the time-series mirror. *influxdb.Client implements it.
type TimeSeriesWriter interface {
	WriteReading(mac, nickname, sensorID string, value float64, ts time.Time)
	WriteBoardEvent(mac, nickname, status string, ts time.Time)
	WriteConnectionStatus(endpoint string, connected bool, ts time.Time)
}

// TimeSeriesObserver mirrors every record into a time-series store.
func TimeSeriesObserver(w TimeSeriesWriter) Observer {
	return ObserverFunc(func(_ context.Context, rec Record) {
		switch rec.Kind {
		case KindReading:
			if rec.Value == nil {
				return
			}
			w.WriteReading(rec.BoardMAC, rec.BoardNickname, rec.SensorID, *rec.Value, rec.Timestamp)
		case KindBoardEvent:
			w.WriteBoardEvent(rec.BoardMAC, rec.BoardNickname, rec.Status, rec.Timestamp)
		case KindConnection:
			w.WriteConnectionStatus(rec.Endpoint, rec.Status == string(registry.StatusConnected), rec.Timestamp)
		}
	})
}

// cacheWriteTimeout bounds one cache update so an unreachable cache cannot
// stall message processing.
const cacheWriteTimeout = 500 * time.Millisecond

// ReadingCache stores the latest reading per sensor. *cache.Cache
// implements it.
type ReadingCache interface {
	SetLatestReading(ctx context.Context, mac, sensorID string, r cache.Reading) error
}

// CacheObserver keeps the live reading cache current. Cache failures are
// logged; the reading is already in the registry.
func CacheObserver(c ReadingCache, logger Logger) Observer {
	if logger == nil {
		logger = noopLogger{}
	}
	return ObserverFunc(func(ctx context.Context, rec Record) {
		if rec.Kind != KindReading || rec.Value == nil {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, cacheWriteTimeout)
		defer cancel()
		err := c.SetLatestReading(ctx, rec.BoardMAC, rec.SensorID, cache.Reading{
			Value:     *rec.Value,
			Timestamp: rec.Timestamp,
		})
		if err != nil {
			logger.Warn("failed to update reading cache",
				"mac", rec.BoardMAC,
				"sensor_id", rec.SensorID,
				"error", err,
			)
		}
	})
}
