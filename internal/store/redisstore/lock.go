package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps the Redis client used for cross-process run locks.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func lockKey(workItemID string) string {
	return "recipeforge:runlock:" + workItemID
}

// Acquire takes the per-item run lock with SET NX and a TTL so a crashed
// worker can never hold an item forever. Returns false when another run
// holds it.
func (s *Store) Acquire(ctx context.Context, workItemID string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, lockKey(workItemID), "1", ttl).Result()
}

// Release drops the run lock. Releasing a lock that already expired is
// not an error.
func (s *Store) Release(ctx context.Context, workItemID string) error {
	return s.rdb.Del(ctx, lockKey(workItemID)).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies connectivity at startup.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
