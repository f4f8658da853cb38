// Package memdb is the in-process reference Backend for dbcore.Base: a
// plain map-of-maps guarded by a single mutex. It exists so dbcore and the
// backup/restore core are exercisable end-to-end without a production
// document-database adapter — spec §1 excludes those adapters (DynamoDB,
// Firestore, MongoDB, ...) from this repo's scope, not a reference store.
package memdb

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/bkio/crosscloudkit/dbcore"
	"github.com/bkio/crosscloudkit/primitive"
	"github.com/bkio/crosscloudkit/result"
)

// Store is an in-memory dbcore.Backend: table name -> key mutex-component
// -> item. Items are deep-copied on every read/write so callers can't
// mutate the store's internal state through a returned map.
type Store struct {
	mu     sync.Mutex
	tables map[string]map[string]dbcore.Item
}

func New() *Store {
	return &Store{tables: make(map[string]map[string]dbcore.Item)}
}

func cloneItem(item dbcore.Item) dbcore.Item {
	if item == nil {
		return nil
	}
	out := make(dbcore.Item, len(item))
	for k, v := range item {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func (s *Store) RawGetItem(ctx context.Context, table string, key primitive.DbKey) result.Outcome[dbcore.Item] {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, ok := s.tables[table]
	if !ok {
		return result.Fail[dbcore.Item](result.KindNotFound, "table %s does not exist", table)
	}
	item, ok := tbl[key.MutexComponent()]
	if !ok {
		return result.Fail[dbcore.Item](result.KindNotFound, "item %s not found in table %s", key.MutexComponent(), table)
	}
	return result.Ok(cloneItem(item))
}

func (s *Store) RawPutItem(ctx context.Context, table string, key primitive.DbKey, item dbcore.Item, overwriteIfExists bool) result.Outcome[dbcore.Item] {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, ok := s.tables[table]
	if !ok {
		tbl = make(map[string]dbcore.Item)
		s.tables[table] = tbl
	}
	k := key.MutexComponent()
	if _, exists := tbl[k]; exists && !overwriteIfExists {
		return result.Fail[dbcore.Item](result.KindConflict, "item %s already exists in table %s", k, table)
	}
	stored := cloneItem(item)
	tbl[k] = stored
	return result.Ok(cloneItem(stored))
}

func (s *Store) RawDeleteItem(ctx context.Context, table string, key primitive.DbKey) result.Outcome[dbcore.Item] {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, ok := s.tables[table]
	if !ok {
		return result.Fail[dbcore.Item](result.KindNotFound, "table %s does not exist", table)
	}
	k := key.MutexComponent()
	item, ok := tbl[k]
	if !ok {
		return result.Fail[dbcore.Item](result.KindNotFound, "item %s not found in table %s", k, table)
	}
	delete(tbl, k)
	return result.Ok(cloneItem(item))
}

func (s *Store) RawScanTable(ctx context.Context, table string) result.Outcome[[]dbcore.Item] {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl := s.tables[table]
	items := make([]dbcore.Item, 0, len(tbl))
	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		items = append(items, cloneItem(tbl[k]))
	}
	return result.Ok(items)
}

func (s *Store) RawScanTablePaginated(ctx context.Context, table string, pageSize int, pageToken string) result.Outcome[dbcore.ScanPage] {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl := s.tables[table]
	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if pageToken != "" {
		if n, err := strconv.Atoi(pageToken); err == nil {
			start = n
		}
	}
	if start > len(keys) {
		start = len(keys)
	}
	end := len(keys)
	if pageSize > 0 && start+pageSize < end {
		end = start + pageSize
	}
	items := make([]dbcore.Item, 0, end-start)
	for _, k := range keys[start:end] {
		items = append(items, cloneItem(tbl[k]))
	}
	page := dbcore.ScanPage{Items: items}
	if end < len(keys) {
		tok := strconv.Itoa(end)
		page.NextPageToken = &tok
	}
	total := len(keys)
	page.TotalCount = &total
	return result.Ok(page)
}

func (s *Store) RawDropTable(ctx context.Context, table string) result.Outcome[result.None] {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, table)
	return result.Ok(result.None{})
}

func (s *Store) RawGetTableNames(ctx context.Context) result.Outcome[[]string] {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return result.Ok(names)
}

var _ dbcore.Backend = (*Store)(nil)
