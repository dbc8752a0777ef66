// Package lock provides the per-(user, module) serialization point used by
// completion propagation.
//
// Backend: Redis SET NX PX with a token-checked release (env REDIS_URL).
// Fallback: an in-process locker, correct only for a single instance.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotAcquired is returned when the wait budget runs out.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker acquires exclusive leases on string keys.
type Locker interface {
	// Acquire blocks until the key is held, wait elapses or ctx is done.
	// The lease expires after ttl even if release is never called.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// NewLocker returns a Redis locker when redisURL is set, otherwise the
// in-process locker.
func NewLocker(redisURL string, wait time.Duration) Locker {
	if redisURL != "" {
		return newRedisLocker(redisURL, wait)
	}
	return NewMemoryLocker(wait)
}

// Ping checks the locker's backend when it has one. The in-process locker
// is always ready.
func Ping(ctx context.Context, l Locker) error {
	p, ok := l.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

// ModuleKey names the lease for one learner's module.
func ModuleKey(userID, moduleID uuid.UUID) string {
	return "progress:module:" + userID.String() + ":" + moduleID.String()
}
