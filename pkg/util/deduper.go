package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper guards event-driven pipeline stages against duplicate deliveries of
// the same message event (MQ redeliveries, concurrent triggers).
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce tries to acquire a dedup lock for a given stage + messageID.
// Returns true if this is the first time processing, false on a duplicate.
func (d *Deduper) AcquireOnce(ctx context.Context, stage string, messageID int) bool {
	key := fmt.Sprintf("dedup:%s:%d", stage, messageID)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// Redis 不可用时不阻止处理；下游 upsert 本身是幂等的
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("stage", stage),
				zap.Int("message_id", messageID),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Info("Skipped duplicated event",
			zap.String("stage", stage),
			zap.Int("message_id", messageID),
			zap.String("dedup_key", key),
		)
	}

	return ok
}
