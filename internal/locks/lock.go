package locks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Release only deletes the key if this lease still owns it; an expired lease
// must not free a lock someone else has since acquired.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker is a best-effort cross-process lock on redis SetNX. Correctness of
// order and slot transitions does not depend on it; conditional updates in the
// repositories are the real serialization. The lock keeps concurrent webhook
// and manual-verify calls for the same order from doing redundant work.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(releaseScript),
	}
}

// Lease is one acquisition of a lock, released exactly once by its holder.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// TryAcquire attempts the lock without blocking. A nil Lease with nil error
// means someone else holds it.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lock client not configured")
	}
	if key == "" {
		return nil, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, err
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

func (le *Lease) Release(ctx context.Context) error {
	if le == nil || le.locker == nil {
		return nil
	}
	return le.locker.script.Run(ctx, le.locker.client, []string{le.key}, le.token).Err()
}
