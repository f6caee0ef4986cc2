package redis

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// StatsRecorder keeps per-user aggregate totals in a Redis hash:
// HINCRBY user:{userID}:stats points|attempts. Increments are commutative, so
// concurrent finalizes for the same user need no ordering.
type StatsRecorder struct {
	client *redis.Client
}

func NewStatsRecorder(client *redis.Client) *StatsRecorder {
	return &StatsRecorder{client: client}
}

func (r *StatsRecorder) RecordFinalize(ctx context.Context, userID string, scoreDelta, attemptDelta int) error {
	key := r.statsKey(userID)
	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, key, "points", int64(scoreDelta))
	pipe.HIncrBy(ctx, key, "attempts", int64(attemptDelta))
	_, err := pipe.Exec(ctx)
	return err
}

// Stats reads the current totals, mainly for tests and debugging endpoints.
func (r *StatsRecorder) Stats(ctx context.Context, userID string) (points, attempts int, err error) {
	vals, err := r.client.HGetAll(ctx, r.statsKey(userID)).Result()
	if err != nil {
		return 0, 0, err
	}
	points, _ = strconv.Atoi(vals["points"])
	attempts, _ = strconv.Atoi(vals["attempts"])
	return points, attempts, nil
}

func (r *StatsRecorder) statsKey(userID string) string {
	return "user:" + userID + ":stats"
}
