package timeline

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DispatchClaimer stops overlapping sweeps from dispatching the same
// action of the same progress record twice.
type DispatchClaimer interface {
	// Claim returns false when another sweep holds the claim.
	Claim(ctx context.Context, progressID, actionID string) (bool, error)
	// Release drops a claim so a failed dispatch can be retried.
	Release(ctx context.Context, progressID, actionID string) error
}

// RedisClaimer implements DispatchClaimer with SET NX and a TTL. A claim
// outlives the dispatch so a second sweep reading a stale progress record
// still sees it.
type RedisClaimer struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisClaimer creates a claimer whose claims expire after ttl.
func NewRedisClaimer(client *redis.Client, ttl time.Duration) *RedisClaimer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisClaimer{client: client, ttl: ttl, prefix: "lifecycle:claim:"}
}

func (r *RedisClaimer) key(progressID, actionID string) string {
	return r.prefix + progressID + ":" + actionID
}

func (r *RedisClaimer) Claim(ctx context.Context, progressID, actionID string) (bool, error) {
	return r.client.SetNX(ctx, r.key(progressID, actionID), time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
}

func (r *RedisClaimer) Release(ctx context.Context, progressID, actionID string) error {
	return r.client.Del(ctx, r.key(progressID, actionID)).Err()
}
