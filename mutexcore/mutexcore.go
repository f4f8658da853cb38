// Package mutexcore wraps MemoryService's lock primitive (spec §4.1) into
// the scoped acquisition helper of spec §4.2: bounded-backoff blocking
// Acquire, idempotent Release.
package mutexcore

import (
	"context"
	"sync"
	"time"

	"github.com/bkio/crosscloudkit/memory"
	"github.com/bkio/crosscloudkit/result"
)

// pollInterval bounds the backoff between lock attempts while Acquire
// blocks (spec §4.2: "~100 ms").
const pollInterval = 100 * time.Millisecond

// Handle is a held mutex lease. Release must be called exactly once;
// repeat calls are a no-op (spec §4.2: "Double-release is a no-op").
type Handle struct {
	mem      memory.MemoryService
	scope    memory.Scope
	key      string
	leaseID  string
	released sync.Once
}

// Acquire blocks until the lock is taken, ctx is cancelled (fails with
// KindCancelled), or the underlying Lock call errors (fails with the
// underlying message). Polling between attempts is bounded by
// pollInterval.
func Acquire(ctx context.Context, mem memory.MemoryService, scope memory.Scope, key string, ttl time.Duration) result.Outcome[*Handle] {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return result.Fail[*Handle](result.KindCancelled, "acquire of %s cancelled", key)
		case <-timer.C:
		}

		out := mem.Lock(ctx, scope, key, ttl)
		if !out.IsSuccessful {
			return result.Fail[*Handle](out.Kind, "%s", out.ErrorMessage)
		}
		if out.Data.Acquired {
			return result.Ok(&Handle{mem: mem, scope: scope, key: key, leaseID: out.Data.LeaseID})
		}
		timer.Reset(pollInterval)
	}
}

// Release unlocks the held mutex exactly once. Safe to call multiple
// times or on a nil Handle.
func (h *Handle) Release(ctx context.Context) result.Outcome[result.None] {
	if h == nil {
		return result.Ok(result.None{})
	}
	out := result.Ok(result.None{})
	h.released.Do(func() {
		out = h.mem.Unlock(ctx, h.scope, h.key, h.leaseID)
	})
	return out
}
