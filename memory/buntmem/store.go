package buntmem

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bkio/crosscloudkit/memory"
	"github.com/bkio/crosscloudkit/primitive"
	"github.com/bkio/crosscloudkit/result"
	"github.com/teris-io/shortid"
	"github.com/tidwall/buntdb"
)

const (
	sepKV     = "\x00kv\x00"
	sepList   = "\x00list\x00"
	sepTTL    = "\x00ttlmeta\x00"
	sepLease  = "\x00lease\x00"
)

// Store is the buntdb-backed MemoryService reference implementation.
// Access is serialized by a single coarse-grained mutex: list values are
// read-modify-write blobs, so relying on buntdb's own per-key transactions
// alone would race two concurrent list pushes against each other.
type Store struct {
	db  *buntdb.DB
	mu  sync.Mutex
	pub memory.Publisher // may be nil: change notifications are then skipped
	sid *shortid.Shortid
}

// New opens an in-process buntdb instance. Pass path=":memory:" for a pure
// in-memory store (the common case in tests and single-process deployments)
// or a file path to persist across restarts.
func New(path string, pub memory.Publisher) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	// Same alphabet shape the teacher's cmn/shortid.go builds for GenUUID,
	// reused here for lease tokens.
	const abc = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"
	sid, err := shortid.New(1, abc, 0xC10CC10C)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, pub: pub, sid: sid}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func kvKey(scope memory.Scope, key string) string  { return scope.Compile() + sepKV + key }
func listKey(scope memory.Scope, list string) string { return scope.Compile() + sepList + list }
func ttlMetaKey(scope memory.Scope) string         { return scope.Compile() + sepTTL }
func leaseKey(scope memory.Scope, mutexKey string) string { return scope.Compile() + sepLease + mutexKey }

func (s *Store) publish(ctx context.Context, scope memory.Scope, n memory.ChangeNotification) {
	if s.pub == nil {
		return
	}
	n.Scope = scope.Compile()
	s.pub.Publish(ctx, scope.Compile(), n.String())
}

// currentTTL returns the scope's configured aggregate TTL, or 0 (no expiry)
// if none is set or it already elapsed.
func (s *Store) currentTTL(tx *buntdb.Tx, scope memory.Scope) time.Duration {
	val, err := tx.Get(ttlMetaKey(scope))
	if err != nil {
		return 0
	}
	var ns int64
	fmt.Sscanf(val, "%d", &ns)
	return time.Duration(ns)
}

func setOpts(ttl time.Duration) *buntdb.SetOptions {
	if ttl <= 0 {
		return nil
	}
	return &buntdb.SetOptions{Expires: true, TTL: ttl}
}

// ---- scalar key/value ----

func (s *Store) SetKeyValue(ctx context.Context, scope memory.Scope, key string, value primitive.Primitive, publishChange bool) result.Outcome[result.None] {
	if strings.TrimSpace(key) == "" {
		return result.Fail[result.None](result.KindInvalidInput, "empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(tx *buntdb.Tx) error {
		ttl := s.currentTTL(tx, scope)
		_, _, err := tx.Set(kvKey(scope, key), string(encodeSingle(value)), setOpts(ttl))
		return err
	})
	if err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	if publishChange {
		s.publish(ctx, scope, memory.ChangeNotification{Operation: memory.ChangeSetKeyValue, Keys: []string{key}, Values: []primitive.Primitive{value}})
	}
	return result.Ok(result.None{})
}

func (s *Store) GetKeyValue(ctx context.Context, scope memory.Scope, key string) result.Outcome[primitive.Primitive] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var raw string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(kvKey(scope, key))
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return result.Fail[primitive.Primitive](result.KindNotFound, "key %q not found in scope %q", key, scope.Compile())
	}
	if err != nil {
		return result.Wrap[primitive.Primitive](result.KindBackendError, err)
	}
	v, err := decodeSingle([]byte(raw))
	if err != nil {
		return result.Wrap[primitive.Primitive](result.KindBackendError, err)
	}
	return result.Ok(v)
}

// GetKeyCount reports how many scalar keys the scope currently holds.
// Expired keys are gone from buntdb's index, so after the scope TTL
// elapses the count is zero.
func (s *Store) GetKeyCount(ctx context.Context, scope memory.Scope) result.Outcome[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	prefix := scope.Compile() + sepKV
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendGreaterOrEqual("", prefix, func(k, v string) bool {
			if !strings.HasPrefix(k, prefix) {
				return false
			}
			count++
			return true
		})
	})
	if err != nil {
		return result.Wrap[int](result.KindBackendError, err)
	}
	return result.Ok(count)
}

func (s *Store) DeleteKey(ctx context.Context, scope memory.Scope, key string, publishChange bool) result.Outcome[result.None] {
	s.mu.Lock()
	defer s.mu.Unlock()
	existed := true
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(kvKey(scope, key))
		if err == buntdb.ErrNotFound {
			existed = false
			return nil
		}
		return err
	})
	if err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	if publishChange && existed {
		s.publish(ctx, scope, memory.ChangeNotification{Operation: memory.ChangeDeleteKey, Keys: []string{key}})
	}
	return result.Ok(result.None{})
}

func (s *Store) DeleteAllKeys(ctx context.Context, scope memory.Scope, keys []string, publishChange bool) result.Outcome[result.None] {
	if len(keys) == 0 {
		return result.Fail[result.None](result.KindInvalidInput, "empty key list")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []string
	err := s.db.Update(func(tx *buntdb.Tx) error {
		for _, k := range keys {
			_, err := tx.Delete(kvKey(scope, k))
			if err == nil {
				deleted = append(deleted, k)
			} else if err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	if publishChange && len(deleted) > 0 {
		s.publish(ctx, scope, memory.ChangeNotification{Operation: memory.ChangeDeleteAllKeys, Keys: deleted})
	}
	return result.Ok(result.None{})
}

// ---- set-if-absent family ----

func (s *Store) SetKeyValueConditionally(ctx context.Context, scope memory.Scope, key string, value primitive.Primitive, publishChange bool) result.Outcome[bool] {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := false
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Get(kvKey(scope, key))
		if err == nil {
			return nil // already present: not set
		}
		if err != buntdb.ErrNotFound {
			return err
		}
		ttl := s.currentTTL(tx, scope)
		_, _, err = tx.Set(kvKey(scope, key), string(encodeSingle(value)), setOpts(ttl))
		if err == nil {
			set = true
		}
		return err
	})
	if err != nil {
		return result.Wrap[bool](result.KindBackendError, err)
	}
	if publishChange && set {
		s.publish(ctx, scope, memory.ChangeNotification{Operation: memory.ChangeSetKeyValue, Keys: []string{key}, Values: []primitive.Primitive{value}})
	}
	return result.Ok(set)
}

func (s *Store) SetKeyValueConditionallyRegardless(ctx context.Context, scope memory.Scope, key string, value primitive.Primitive, publishChange bool) result.Outcome[memory.ConditionalSetResult] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var final primitive.Primitive
	newlySet := false
	err := s.db.Update(func(tx *buntdb.Tx) error {
		existing, err := tx.Get(kvKey(scope, key))
		if err == nil {
			final, err = decodeSingle([]byte(existing))
			return err
		}
		if err != buntdb.ErrNotFound {
			return err
		}
		ttl := s.currentTTL(tx, scope)
		_, _, err = tx.Set(kvKey(scope, key), string(encodeSingle(value)), setOpts(ttl))
		if err != nil {
			return err
		}
		final = value
		newlySet = true
		return nil
	})
	if err != nil {
		return result.Wrap[memory.ConditionalSetResult](result.KindBackendError, err)
	}
	if publishChange && newlySet {
		s.publish(ctx, scope, memory.ChangeNotification{Operation: memory.ChangeSetKeyValue, Keys: []string{key}, Values: []primitive.Primitive{value}})
	}
	return result.Ok(memory.ConditionalSetResult{Value: final, NewlySet: newlySet})
}

// ---- bulk ----

func (s *Store) IncrementKeyValues(ctx context.Context, scope memory.Scope, deltas map[string]int64, publishChange bool) result.Outcome[map[string]int64] {
	if len(deltas) == 0 {
		return result.Fail[map[string]int64](result.KindInvalidInput, "empty key list")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	newVals := make(map[string]int64, len(deltas))
	err := s.db.Update(func(tx *buntdb.Tx) error {
		ttl := s.currentTTL(tx, scope)
		for k, delta := range deltas {
			var cur int64
			existing, err := tx.Get(kvKey(scope, k))
			if err == nil {
				v, derr := decodeSingle([]byte(existing))
				if derr != nil {
					return derr
				}
				cur, _ = v.AsInteger()
			} else if err != buntdb.ErrNotFound {
				return err
			}
			cur += delta
			newVals[k] = cur
			if _, _, err := tx.Set(kvKey(scope, k), string(encodeSingle(primitive.Integer(cur))), setOpts(ttl)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return result.Wrap[map[string]int64](result.KindBackendError, err)
	}
	if publishChange {
		keys := make([]string, 0, len(newVals))
		vals := make([]primitive.Primitive, 0, len(newVals))
		for k, v := range newVals {
			keys = append(keys, k)
			vals = append(vals, primitive.Integer(v))
		}
		s.publish(ctx, scope, memory.ChangeNotification{Operation: memory.ChangeSetKeyValue, Keys: keys, Values: vals})
	}
	return result.Ok(newVals)
}

func (s *Store) SetMultipleKeyValues(ctx context.Context, scope memory.Scope, values map[string]primitive.Primitive, ttl time.Duration, publishChange bool) result.Outcome[result.None] {
	if len(values) == 0 {
		return result.Fail[result.None](result.KindInvalidInput, "empty value map")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(tx *buntdb.Tx) error {
		effTTL := ttl
		if effTTL <= 0 {
			effTTL = s.currentTTL(tx, scope)
		}
		for k, v := range values {
			if _, _, err := tx.Set(kvKey(scope, k), string(encodeSingle(v)), setOpts(effTTL)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	if publishChange {
		keys := make([]string, 0, len(values))
		vals := make([]primitive.Primitive, 0, len(values))
		for k, v := range values {
			keys = append(keys, k)
			vals = append(vals, v)
		}
		s.publish(ctx, scope, memory.ChangeNotification{Operation: memory.ChangeSetKeyValue, Keys: keys, Values: vals})
	}
	return result.Ok(result.None{})
}

// ---- scope TTL ----

func (s *Store) SetScopeTTL(ctx context.Context, scope memory.Scope, ttl time.Duration) result.Outcome[result.None] {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
		prefix := scope.Compile() + "\x00"
		if iterErr := tx.AscendGreaterOrEqual("", prefix, func(k, v string) bool {
			if !strings.HasPrefix(k, prefix) {
				return false
			}
			keys = append(keys, k)
			return true
		}); iterErr != nil {
			return iterErr
		}
		for _, k := range keys {
			v, err := tx.Get(k)
			if err != nil {
				continue
			}
			if _, _, err := tx.Set(k, v, setOpts(ttl)); err != nil {
				return err
			}
		}
		if _, _, err := tx.Set(ttlMetaKey(scope), fmt.Sprintf("%d", int64(ttl)), setOpts(ttl)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	return result.Ok(result.None{})
}

func (s *Store) GetScopeTTL(ctx context.Context, scope memory.Scope) result.Outcome[time.Duration] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ttl time.Duration
	err := s.db.View(func(tx *buntdb.Tx) error {
		ttl = s.currentTTL(tx, scope)
		return nil
	})
	if err != nil {
		return result.Wrap[time.Duration](result.KindBackendError, err)
	}
	return result.Ok(ttl)
}
