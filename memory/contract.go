// Package memory defines the scoped key/value + list store contract (spec
// §4.1): MemoryService. Concrete backends live in subpackages (e.g.
// memory/buntmem); this package owns only the interface, scope, change
// notification, and lock-attempt types shared by every backend.
package memory

import (
	"context"
	"time"

	"github.com/bkio/crosscloudkit/primitive"
	"github.com/bkio/crosscloudkit/result"
)

// Publisher is the minimal surface a MemoryService needs from a pub/sub bus
// to emit change notifications. Structurally satisfied by
// pubsub.PubSubService — kept separate here so this package never imports
// pubsub and the dependency only ever points one way.
type Publisher interface {
	Publish(ctx context.Context, topic string, message string) result.Outcome[result.None]
}

// LockAttempt is the payload of a successful Lock call: Acquired is false
// when the mutex is currently held by someone else (a non-error outcome),
// true with a populated LeaseID on acquisition (spec §4.1).
type LockAttempt struct {
	Acquired bool
	LeaseID  string
}

// ConditionalSetResult is the payload of SetKeyValueConditionallyRegardless:
// Value is whichever value is now stored (the just-set one, or the
// pre-existing one), NewlySet reports which case occurred.
type ConditionalSetResult struct {
	Value    primitive.Primitive
	NewlySet bool
}

// MemoryService is the scoped, provider-backed K/V + list store of spec
// §4.1. Every method is cancellable and publishes a change notification
// when publishChange is true and the operation was not a no-op.
type MemoryService interface {
	// Key/value
	SetKeyValue(ctx context.Context, scope Scope, key string, value primitive.Primitive, publishChange bool) result.Outcome[result.None]
	GetKeyValue(ctx context.Context, scope Scope, key string) result.Outcome[primitive.Primitive]
	GetKeyCount(ctx context.Context, scope Scope) result.Outcome[int]
	DeleteKey(ctx context.Context, scope Scope, key string, publishChange bool) result.Outcome[result.None]
	DeleteAllKeys(ctx context.Context, scope Scope, keys []string, publishChange bool) result.Outcome[result.None]

	// Set-if-absent family
	SetKeyValueConditionally(ctx context.Context, scope Scope, key string, value primitive.Primitive, publishChange bool) result.Outcome[bool]
	SetKeyValueConditionallyRegardless(ctx context.Context, scope Scope, key string, value primitive.Primitive, publishChange bool) result.Outcome[ConditionalSetResult]

	// Bulk
	IncrementKeyValues(ctx context.Context, scope Scope, deltas map[string]int64, publishChange bool) result.Outcome[map[string]int64]
	SetMultipleKeyValues(ctx context.Context, scope Scope, values map[string]primitive.Primitive, ttl time.Duration, publishChange bool) result.Outcome[result.None]

	// Scope TTL
	SetScopeTTL(ctx context.Context, scope Scope, ttl time.Duration) result.Outcome[result.None]
	GetScopeTTL(ctx context.Context, scope Scope) result.Outcome[time.Duration]

	// Lists
	PushToListHead(ctx context.Context, scope Scope, list string, values []primitive.Primitive, publishChange bool) result.Outcome[result.None]
	PushToListTail(ctx context.Context, scope Scope, list string, values []primitive.Primitive, publishChange bool) result.Outcome[result.None]
	PushToListTailIfNotExists(ctx context.Context, scope Scope, list string, values []primitive.Primitive, publishChange bool) result.Outcome[[]primitive.Primitive]
	PopFirstElementOfList(ctx context.Context, scope Scope, list string, publishChange bool) result.Outcome[primitive.Primitive]
	PopLastElementOfList(ctx context.Context, scope Scope, list string, publishChange bool) result.Outcome[primitive.Primitive]
	RemoveElementsFromList(ctx context.Context, scope Scope, list string, values []primitive.Primitive, publishChange bool) result.Outcome[result.None]
	GetAllElementsOfList(ctx context.Context, scope Scope, list string) result.Outcome[[]primitive.Primitive]
	ListSize(ctx context.Context, scope Scope, list string) result.Outcome[int]
	ListContains(ctx context.Context, scope Scope, list string, value primitive.Primitive) result.Outcome[bool]
	EmptyList(ctx context.Context, scope Scope, list string, publishChange bool) result.Outcome[result.None]
	EmptyListAndPrefixedSublists(ctx context.Context, scope Scope, listPrefix string, publishChange bool) result.Outcome[result.None]

	// Mutex primitive (spec §4.1 "Mutex primitive")
	Lock(ctx context.Context, scope Scope, mutexKey string, ttl time.Duration) result.Outcome[LockAttempt]
	Unlock(ctx context.Context, scope Scope, mutexKey, leaseID string) result.Outcome[result.None]
}
