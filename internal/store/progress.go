package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/jobmail/internal/pkg/logger"
)

const progressTTL = 24 * time.Hour

// RedisProgress publishes ingest row counters to Redis so operators can
// watch a running batch. Implements ingest.ProgressReporter. Best effort:
// a Redis hiccup never touches the batch outcome.
type RedisProgress struct{ client *redis.Client }

// NewRedisProgress creates a progress reporter over an existing client.
func NewRedisProgress(client *redis.Client) *RedisProgress {
	return &RedisProgress{client: client}
}

func progressKey(batchID string) string {
	return fmt.Sprintf("jobmail:ingest:%s", batchID)
}

// ReportProgress overwrites the batch counters and refreshes the TTL.
func (p *RedisProgress) ReportProgress(ctx context.Context, batchID string, rowsRead, accepted, rejected int64) {
	key := progressKey(batchID)
	pipe := p.client.Pipeline()
	pipe.HSet(ctx, key,
		"rows_read", rowsRead,
		"accepted", accepted,
		"rejected", rejected,
		"updated_at", time.Now().UTC().Format(time.RFC3339),
	)
	pipe.Expire(ctx, key, progressTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("ingest progress update failed", "batch_id", batchID, "error", err.Error())
	}
}

// Snapshot reads the current counters, for operational tooling.
func (p *RedisProgress) Snapshot(ctx context.Context, batchID string) (map[string]string, error) {
	return p.client.HGetAll(ctx, progressKey(batchID)).Result()
}
