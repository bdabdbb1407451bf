package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplyCounter tracks how many auto-replies a user has sent today. Keys roll
// over naturally because each one embeds the date and expires after 48h.
type ReplyCounter struct {
	rdb *redis.Client
}

func NewReplyCounter(rdb *redis.Client) *ReplyCounter {
	return &ReplyCounter{rdb: rdb}
}

func replyKey(userID int, day time.Time) string {
	return fmt.Sprintf("autoreply:%d:%s", userID, day.Format("2006-01-02"))
}

// RepliesToday returns the number of auto-replies already sent for the user
// on the given local day.
func (r *ReplyCounter) RepliesToday(ctx context.Context, userID int, now time.Time) (int, error) {
	count, err := r.rdb.Get(ctx, replyKey(userID, now)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

// Increment bumps today's count. Expiration is set on first increment only.
func (r *ReplyCounter) Increment(ctx context.Context, userID int, now time.Time) error {
	key := replyKey(userID, now)
	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if count == 1 {
		r.rdb.Expire(ctx, key, 48*time.Hour)
	}
	return nil
}
