package buntmem

import (
	"context"
	"strings"
	"time"

	"github.com/bkio/crosscloudkit/memory"
	"github.com/bkio/crosscloudkit/primitive"
	"github.com/bkio/crosscloudkit/result"
	"github.com/tidwall/buntdb"
)

func (s *Store) readList(tx *buntdb.Tx, scope memory.Scope, list string) ([]primitive.Primitive, error) {
	raw, err := tx.Get(listKey(scope, list))
	if err == buntdb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodePrimitives([]byte(raw))
}

func (s *Store) writeList(tx *buntdb.Tx, scope memory.Scope, list string, values []primitive.Primitive) error {
	ttl := s.currentTTL(tx, scope)
	if len(values) == 0 {
		_, err := tx.Delete(listKey(scope, list))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	}
	_, _, err := tx.Set(listKey(scope, list), string(encodePrimitives(values)), setOpts(ttl))
	return err
}

func containsValue(values []primitive.Primitive, v primitive.Primitive) bool {
	for _, e := range values {
		if e.Equal(v) {
			return true
		}
	}
	return false
}

func (s *Store) PushToListHead(ctx context.Context, scope memory.Scope, list string, values []primitive.Primitive, publishChange bool) result.Outcome[result.None] {
	if len(values) == 0 {
		return result.Fail[result.None](result.KindInvalidInput, "empty values")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(tx *buntdb.Tx) error {
		cur, err := s.readList(tx, scope, list)
		if err != nil {
			return err
		}
		merged := append(append([]primitive.Primitive{}, values...), cur...)
		return s.writeList(tx, scope, list, merged)
	})
	if err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	if publishChange {
		s.publish(ctx, scope, memory.ChangeNotification{Operation: memory.ChangePushToListHead, Keys: []string{list}, Values: values})
	}
	return result.Ok(result.None{})
}

func (s *Store) PushToListTail(ctx context.Context, scope memory.Scope, list string, values []primitive.Primitive, publishChange bool) result.Outcome[result.None] {
	if len(values) == 0 {
		return result.Fail[result.None](result.KindInvalidInput, "empty values")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(tx *buntdb.Tx) error {
		cur, err := s.readList(tx, scope, list)
		if err != nil {
			return err
		}
		merged := append(append([]primitive.Primitive{}, cur...), values...)
		return s.writeList(tx, scope, list, merged)
	})
	if err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	if publishChange {
		s.publish(ctx, scope, memory.ChangeNotification{Operation: memory.ChangePushToListTail, Keys: []string{list}, Values: values})
	}
	return result.Ok(result.None{})
}

// PushToListTailIfNotExists appends only the values not already present,
// and returns exactly those appended values (spec §8 testable property).
func (s *Store) PushToListTailIfNotExists(ctx context.Context, scope memory.Scope, list string, values []primitive.Primitive, publishChange bool) result.Outcome[[]primitive.Primitive] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var appended []primitive.Primitive
	err := s.db.Update(func(tx *buntdb.Tx) error {
		cur, err := s.readList(tx, scope, list)
		if err != nil {
			return err
		}
		for _, v := range values {
			if !containsValue(cur, v) && !containsValue(appended, v) {
				appended = append(appended, v)
			}
		}
		if len(appended) == 0 {
			return nil
		}
		merged := append(append([]primitive.Primitive{}, cur...), appended...)
		return s.writeList(tx, scope, list, merged)
	})
	if err != nil {
		return result.Wrap[[]primitive.Primitive](result.KindBackendError, err)
	}
	if publishChange && len(appended) > 0 {
		s.publish(ctx, scope, memory.ChangeNotification{Operation: memory.ChangePushToListTailIfNotExists, Keys: []string{list}, Values: appended})
	}
	return result.Ok(appended)
}

func (s *Store) PopFirstElementOfList(ctx context.Context, scope memory.Scope, list string, publishChange bool) result.Outcome[primitive.Primitive] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var popped primitive.Primitive
	found := false
	err := s.db.Update(func(tx *buntdb.Tx) error {
		cur, err := s.readList(tx, scope, list)
		if err != nil {
			return err
		}
		if len(cur) == 0 {
			return nil
		}
		popped = cur[0]
		found = true
		return s.writeList(tx, scope, list, cur[1:])
	})
	if err != nil {
		return result.Wrap[primitive.Primitive](result.KindBackendError, err)
	}
	if !found {
		return result.Fail[primitive.Primitive](result.KindNotFound, "list %q is empty", list)
	}
	if publishChange {
		s.publish(ctx, scope, memory.ChangeNotification{Operation: memory.ChangePopFirstElementOfList, Keys: []string{list}, Values: []primitive.Primitive{popped}})
	}
	return result.Ok(popped)
}

func (s *Store) PopLastElementOfList(ctx context.Context, scope memory.Scope, list string, publishChange bool) result.Outcome[primitive.Primitive] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var popped primitive.Primitive
	found := false
	err := s.db.Update(func(tx *buntdb.Tx) error {
		cur, err := s.readList(tx, scope, list)
		if err != nil {
			return err
		}
		if len(cur) == 0 {
			return nil
		}
		popped = cur[len(cur)-1]
		found = true
		return s.writeList(tx, scope, list, cur[:len(cur)-1])
	})
	if err != nil {
		return result.Wrap[primitive.Primitive](result.KindBackendError, err)
	}
	if !found {
		return result.Fail[primitive.Primitive](result.KindNotFound, "list %q is empty", list)
	}
	if publishChange {
		s.publish(ctx, scope, memory.ChangeNotification{Operation: memory.ChangePopLastElementOfList, Keys: []string{list}, Values: []primitive.Primitive{popped}})
	}
	return result.Ok(popped)
}

func (s *Store) RemoveElementsFromList(ctx context.Context, scope memory.Scope, list string, values []primitive.Primitive, publishChange bool) result.Outcome[result.None] {
	if len(values) == 0 {
		return result.Fail[result.None](result.KindInvalidInput, "empty values")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []primitive.Primitive
	err := s.db.Update(func(tx *buntdb.Tx) error {
		cur, err := s.readList(tx, scope, list)
		if err != nil {
			return err
		}
		kept := cur[:0:0]
		for _, e := range cur {
			if containsValue(values, e) {
				removed = append(removed, e)
				continue
			}
			kept = append(kept, e)
		}
		if len(removed) == 0 {
			return nil
		}
		return s.writeList(tx, scope, list, kept)
	})
	if err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	if publishChange && len(removed) > 0 {
		s.publish(ctx, scope, memory.ChangeNotification{Operation: memory.ChangeRemoveElementsFromList, Keys: []string{list}, Values: removed})
	}
	return result.Ok(result.None{})
}

func (s *Store) GetAllElementsOfList(ctx context.Context, scope memory.Scope, list string) result.Outcome[[]primitive.Primitive] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var values []primitive.Primitive
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := s.readList(tx, scope, list)
		values = v
		return err
	})
	if err != nil {
		return result.Wrap[[]primitive.Primitive](result.KindBackendError, err)
	}
	return result.Ok(values)
}

func (s *Store) ListSize(ctx context.Context, scope memory.Scope, list string) result.Outcome[int] {
	out := s.GetAllElementsOfList(ctx, scope, list)
	if !out.IsSuccessful {
		return result.Outcome[int]{IsSuccessful: false, StatusCode: out.StatusCode, Kind: out.Kind, ErrorMessage: out.ErrorMessage}
	}
	return result.Ok(len(out.Data))
}

func (s *Store) ListContains(ctx context.Context, scope memory.Scope, list string, value primitive.Primitive) result.Outcome[bool] {
	out := s.GetAllElementsOfList(ctx, scope, list)
	if !out.IsSuccessful {
		return result.Outcome[bool]{IsSuccessful: false, StatusCode: out.StatusCode, Kind: out.Kind, ErrorMessage: out.ErrorMessage}
	}
	return result.Ok(containsValue(out.Data, value))
}

func (s *Store) EmptyList(ctx context.Context, scope memory.Scope, list string, publishChange bool) result.Outcome[result.None] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var hadContent bool
	err := s.db.Update(func(tx *buntdb.Tx) error {
		cur, err := s.readList(tx, scope, list)
		if err != nil {
			return err
		}
		hadContent = len(cur) > 0
		if !hadContent {
			return nil
		}
		_, err = tx.Delete(listKey(scope, list))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	if publishChange && hadContent {
		s.publish(ctx, scope, memory.ChangeNotification{Operation: memory.ChangeEmptyList, Keys: []string{list}})
	}
	return result.Ok(result.None{})
}

// EmptyListAndPrefixedSublists clears list and every list whose name starts
// with listPrefix (spec §4.1 "empty-list-and-prefixed-sublists").
func (s *Store) EmptyListAndPrefixedSublists(ctx context.Context, scope memory.Scope, listPrefix string, publishChange bool) result.Outcome[result.None] {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := scope.Compile() + sepList + listPrefix
	var matched []string
	err := s.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
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
			if _, err := tx.Delete(k); err != nil && err != buntdb.ErrNotFound {
				return err
			}
			matched = append(matched, strings.TrimPrefix(k, scope.Compile()+sepList))
		}
		return nil
	})
	if err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	if publishChange && len(matched) > 0 {
		s.publish(ctx, scope, memory.ChangeNotification{Operation: memory.ChangeEmptyListAndSublists, Keys: matched})
	}
	return result.Ok(result.None{})
}

// ---- mutex primitive ----

func (s *Store) Lock(ctx context.Context, scope memory.Scope, mutexKey string, ttl time.Duration) result.Outcome[memory.LockAttempt] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var attempt memory.LockAttempt
	err := s.db.Update(func(tx *buntdb.Tx) error {
		key := leaseKey(scope, mutexKey)
		_, err := tx.Get(key)
		if err == nil {
			attempt = memory.LockAttempt{Acquired: false}
			return nil
		}
		if err != buntdb.ErrNotFound {
			return err
		}
		leaseID := s.sid.MustGenerate()
		if _, _, err := tx.Set(key, leaseID, setOpts(ttl)); err != nil {
			return err
		}
		attempt = memory.LockAttempt{Acquired: true, LeaseID: leaseID}
		return nil
	})
	if err != nil {
		return result.Wrap[memory.LockAttempt](result.KindBackendError, err)
	}
	return result.Ok(attempt)
}

func (s *Store) Unlock(ctx context.Context, scope memory.Scope, mutexKey, leaseID string) result.Outcome[result.None] {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(tx *buntdb.Tx) error {
		key := leaseKey(scope, mutexKey)
		cur, err := tx.Get(key)
		if err == buntdb.ErrNotFound {
			return nil // already gone: no-op
		}
		if err != nil {
			return err
		}
		if cur != leaseID {
			return nil // stale lease: no-op, not an error
		}
		_, err = tx.Delete(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	return result.Ok(result.None{})
}

var _ memory.MemoryService = (*Store)(nil)
