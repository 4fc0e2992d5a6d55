package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const participantPrefix = "chat:participants:"

// staleCounterTTL bounds how long a counter can outlive its
// connections. A process that dies without running disconnect cleanup
// would otherwise leak the key and keep the session open forever.
const staleCounterTTL = 24 * time.Hour

// decrementScript decrements atomically with a floor at zero, deleting
// the key when the last participant leaves. Running it server-side
// keeps the floor correct under concurrent disconnects across
// processes.
var decrementScript = redis.NewScript(`
	local count = redis.call("DECR", KEYS[1])
	if count <= 0 then
		redis.call("DEL", KEYS[1])
		return 0
	end
	return count
`)

// Redis is the shared participant registry. All processes serving
// connections for a room mutate the same counter, so "last one out" is
// decided consistently regardless of which process handled each socket.
type Redis struct {
	rdb *redis.Client
}

// NewRedis creates a registry backed by the given client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// Increment atomically bumps the session's counter and returns the new
// count.
func (r *Redis) Increment(ctx context.Context, sessionID string) (int64, error) {
	key := participantPrefix + sessionID
	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment participant count: %w", err)
	}
	r.rdb.Expire(ctx, key, staleCounterTTL)
	return count, nil
}

// Decrement atomically lowers the session's counter, floored at zero.
// The key is deleted when the count reaches zero.
func (r *Redis) Decrement(ctx context.Context, sessionID string) (int64, error) {
	count, err := decrementScript.Run(ctx, r.rdb, []string{participantPrefix + sessionID}).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to decrement participant count: %w", err)
	}
	return count, nil
}
