package dbcore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bkio/crosscloudkit/internal/metrics"
	"github.com/bkio/crosscloudkit/internal/xdebug"
	"github.com/bkio/crosscloudkit/memory"
	"github.com/bkio/crosscloudkit/mutexcore"
	"github.com/bkio/crosscloudkit/primitive"
	"github.com/bkio/crosscloudkit/pubsub"
	"github.com/bkio/crosscloudkit/result"
	"go.uber.org/atomic"
)

// entityMutexTTL and masterMutexTTL are the fixed TTLs of spec §5 ("Entity
// mutex ... 1 min TTL", "Master mutex ... 1 min TTL").
const (
	entityMutexTTL = time.Minute
	masterMutexTTL = time.Minute
)

// Backup-freeze topic and mutex identity, shared with the backup package
// (spec §4.5, §4.6). Both dbcore.Base and backup.Service coordinate
// through this exact scope/key/topic triple, so it is named here once.
const (
	BackupCheckTopic = "DatabaseServiceBase:BackupCheck"
	BackupMutexKey   = "db-backup-mutex"
	BackupMutexTTL   = 5 * time.Minute
)

// BackupMutexScope is the MemoryService scope every backup-mutex
// acquisition (by Base's freeze gate or by the backup engine itself) locks
// within.
func BackupMutexScope() memory.Scope { return memory.NewScope("DatabaseServiceBackup") }

// mutexScope is the single scope every entity/master mutex key lives in;
// the key string alone disambiguates different tables/items (spec §4.5's
// `{MutexPrefix}:...` naming is reproduced inside the key, not the scope).
func mutexScope() memory.Scope { return memory.NewScope("dbcore-mutex") }

// Base wraps a Backend into a full Database: per-(table,key) and
// per-table serialization, backup-freeze cooperation, and system-table
// attribute-name bookkeeping (spec §4.5).
type Base struct {
	backend      Backend
	mem          memory.MemoryService
	mutexPrefix  string
	systemTable  string
	errorCB      func(error)
	frozen       atomic.Bool
	systemMu     sync.Mutex
	subscription pubsub.Subscription
	metrics      *metrics.Registry
}

// SetMetrics attaches a metrics.Registry that subsequent ItemExists,
// GetItem, GetItems and PutItem calls report to; the other Database
// operations are not counted. Passing nil (the default) disables
// reporting; safe to call at any point in Base's lifetime.
func (b *Base) SetMetrics(r *metrics.Registry) {
	b.metrics = r
}

// NewBase constructs a Base over backend, using mem for entity/master/
// backup mutexes. mutexPrefix namespaces mutex keys (so two Bases sharing
// one MemoryService don't collide); systemTablePostfix is appended to the
// reserved system-table name (spec §3: "+ optional postfix"). ps may be
// nil, in which case backup-freeze cooperation is disabled (suitable for
// single-process tests that never run a concurrent Backup). errorCB
// receives subscription delivery errors; it may be nil.
func NewBase(ctx context.Context, backend Backend, mem memory.MemoryService, ps pubsub.PubSubService, mutexPrefix, systemTablePostfix string, errorCB func(error)) *Base {
	xdebug.Assert(backend != nil, "dbcore: NewBase requires a non-nil Backend")
	xdebug.Assert(mem != nil, "dbcore: NewBase requires a non-nil MemoryService")
	b := &Base{
		backend:     backend,
		mem:         mem,
		mutexPrefix: mutexPrefix,
		systemTable: systemTableBaseName + systemTablePostfix,
		errorCB:     errorCB,
	}
	if ps != nil {
		out := ps.Subscribe(ctx, BackupCheckTopic, func(message string) error {
			switch message {
			case "started":
				b.frozen.Store(true)
			case "ended":
				b.frozen.Store(false)
			}
			return nil
		}, errorCB)
		if out.IsSuccessful {
			b.subscription = out.Data
		} else if errorCB != nil {
			errorCB(fmt.Errorf("dbcore: subscribe to %s failed: %s", BackupCheckTopic, out.ErrorMessage))
		}
	}
	return b
}

// Close cancels the backup-freeze subscription (spec §4.5: "cancel-scoped
// to the service lifetime").
func (b *Base) Close() {
	if b.subscription != nil {
		b.subscription.Cancel()
	}
}

// awaitUnfrozen is the backup-freeze gate: every user operation takes the
// backup mutex (waiting for an in-progress Backup to release it) before
// proceeding, whenever the "started" notification has been observed and
// no "ended" has cleared it yet (spec §4.5 "Backup-freeze cooperation").
func (b *Base) awaitUnfrozen(ctx context.Context) result.Outcome[result.None] {
	if !b.frozen.Load() {
		return result.Ok(result.None{})
	}
	out := mutexcore.Acquire(ctx, b.mem, BackupMutexScope(), BackupMutexKey, BackupMutexTTL)
	if !out.IsSuccessful {
		return result.Fail[result.None](out.Kind, "%s", out.ErrorMessage)
	}
	out.Data.Release(ctx)
	return result.Ok(result.None{})
}

func (b *Base) entityMutexKey(table string, key primitive.DbKey) string {
	return fmt.Sprintf("%s:%s:%s", b.mutexPrefix, table, key.MutexComponent())
}

func (b *Base) masterMutexKey(table string) string {
	return fmt.Sprintf("%s:%s", b.mutexPrefix, table)
}

func (b *Base) withEntityLock(ctx context.Context, table string, key primitive.DbKey, fn func() result.Outcome[Item]) result.Outcome[Item] {
	acq := mutexcore.Acquire(ctx, b.mem, mutexScope(), b.entityMutexKey(table, key), entityMutexTTL)
	if !acq.IsSuccessful {
		return result.Fail[Item](acq.Kind, "%s", acq.ErrorMessage)
	}
	defer acq.Data.Release(ctx)
	return fn()
}

func (b *Base) withMasterLock(ctx context.Context, table string, fn func() result.Outcome[result.None]) result.Outcome[result.None] {
	acq := mutexcore.Acquire(ctx, b.mem, mutexScope(), b.masterMutexKey(table), masterMutexTTL)
	if !acq.IsSuccessful {
		return result.Fail[result.None](acq.Kind, "%s", acq.ErrorMessage)
	}
	defer acq.Data.Release(ctx)
	return fn()
}

// sortedKeys orders keys ordinal-by-(name,value) for deterministic
// multi-key lock acquisition (spec §4.5, §5).
func sortedKeys(keys []primitive.DbKey) []primitive.DbKey {
	out := append([]primitive.DbKey{}, keys...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	xdebug.Assertf(len(out) == len(keys), "dbcore: sortedKeys dropped entries: %d != %d", len(out), len(keys))
	return out
}

func (b *Base) ItemExists(ctx context.Context, table string, key primitive.DbKey, cond ConditionCoupling) result.Outcome[bool] {
	if out := b.awaitUnfrozen(ctx); !out.IsSuccessful {
		return result.Fail[bool](out.Kind, "%s", out.ErrorMessage)
	}
	b.metrics.ObserveDBOperation(table, "ItemExists")
	itemOut := b.withEntityLock(ctx, table, key, func() result.Outcome[Item] {
		return b.backend.RawGetItem(ctx, table, key)
	})
	if !itemOut.IsSuccessful {
		if itemOut.Kind == result.KindNotFound {
			return result.Ok(false)
		}
		return result.Fail[bool](itemOut.Kind, "%s", itemOut.ErrorMessage)
	}
	satisfied, present := EvaluateStrict(cond, itemOut.Data)
	if !present {
		return result.Fail[bool](result.KindPreconditionFailed, "condition references a missing attribute")
	}
	return result.Ok(satisfied)
}

func (b *Base) GetItem(ctx context.Context, table string, key primitive.DbKey, attrs []string) result.Outcome[Item] {
	if out := b.awaitUnfrozen(ctx); !out.IsSuccessful {
		return result.Fail[Item](out.Kind, "%s", out.ErrorMessage)
	}
	b.metrics.ObserveDBOperation(table, "GetItem")
	out := b.withEntityLock(ctx, table, key, func() result.Outcome[Item] {
		return b.backend.RawGetItem(ctx, table, key)
	})
	if !out.IsSuccessful {
		// An absent item is a successful nil result, not an error
		// (spec §4.5: "returns null when absent").
		if out.Kind == result.KindNotFound {
			return result.Ok[Item](nil)
		}
		return out
	}
	return result.Ok(projectAttrs(out.Data, attrs))
}

func (b *Base) GetItems(ctx context.Context, table string, keys []primitive.DbKey, attrs []string) result.Outcome[[]Item] {
	if out := b.awaitUnfrozen(ctx); !out.IsSuccessful {
		return result.Fail[[]Item](out.Kind, "%s", out.ErrorMessage)
	}
	b.metrics.ObserveDBOperation(table, "GetItems")
	ordered := sortedKeys(keys)
	acquired := make([]*mutexcore.Handle, 0, len(ordered))
	release := func() {
		for _, h := range acquired {
			h.Release(ctx)
		}
	}
	for _, k := range ordered {
		acq := mutexcore.Acquire(ctx, b.mem, mutexScope(), b.entityMutexKey(table, k), entityMutexTTL)
		if !acq.IsSuccessful {
			release()
			return result.Fail[[]Item](acq.Kind, "%s", acq.ErrorMessage)
		}
		acquired = append(acquired, acq.Data)
	}
	defer release()

	byKey := make(map[string]Item, len(keys))
	for _, k := range ordered {
		out := b.backend.RawGetItem(ctx, table, k)
		if out.IsSuccessful {
			byKey[k.MutexComponent()] = out.Data
		}
	}
	items := make([]Item, 0, len(keys))
	for _, k := range keys {
		if it, ok := byKey[k.MutexComponent()]; ok {
			items = append(items, projectAttrs(it, attrs))
		}
	}
	return result.Ok(items)
}

func (b *Base) PutItem(ctx context.Context, table string, key primitive.DbKey, item Item, ret ReturnBehavior, overwriteIfExists bool) result.Outcome[Item] {
	if out := b.awaitUnfrozen(ctx); !out.IsSuccessful {
		return result.Fail[Item](out.Kind, "%s", out.ErrorMessage)
	}
	b.metrics.ObserveDBOperation(table, "PutItem")
	if table == b.systemTable {
		return result.Fail[Item](result.KindInvalidInput, "table name is reserved for system bookkeeping")
	}
	if ok, sanityOut := b.checkAttributeSanity(ctx, table, key, item); sanityOut.Kind != result.KindNone {
		return result.Fail[Item](sanityOut.Kind, "%s", sanityOut.ErrorMessage)
	} else if !ok {
		return result.Fail[Item](result.KindPreconditionFailed, "attribute name collides with a historical key attribute of table %s", table)
	}

	return b.withEntityLock(ctx, table, key, func() result.Outcome[Item] {
		var old Item
		if ret == ReturnOldValues || !overwriteIfExists {
			if prior := b.backend.RawGetItem(ctx, table, key); prior.IsSuccessful {
				old = prior.Data
			}
		}
		if !overwriteIfExists && old != nil {
			return result.Fail[Item](result.KindConflict, "item already exists for key %s in table %s", key.MutexComponent(), table)
		}
		out := b.backend.RawPutItem(ctx, table, key, item, overwriteIfExists)
		if !out.IsSuccessful {
			return out
		}
		if regOut := b.ensureKeyRegistered(ctx, table, key.Name); !regOut.IsSuccessful {
			return result.Fail[Item](regOut.Kind, "%s", regOut.ErrorMessage)
		}
		switch ret {
		case ReturnOldValues:
			return result.Ok(old)
		case ReturnNewValues:
			return result.Ok(item)
		default:
			return result.Ok[Item](nil)
		}
	})
}

func (b *Base) UpdateItem(ctx context.Context, table string, key primitive.DbKey, patch Item, ret ReturnBehavior, cond ConditionCoupling) result.Outcome[Item] {
	if out := b.awaitUnfrozen(ctx); !out.IsSuccessful {
		return result.Fail[Item](out.Kind, "%s", out.ErrorMessage)
	}
	if ok, sanityOut := b.checkAttributeSanity(ctx, table, key, patch); sanityOut.Kind != result.KindNone {
		return result.Fail[Item](sanityOut.Kind, "%s", sanityOut.ErrorMessage)
	} else if !ok {
		return result.Fail[Item](result.KindPreconditionFailed, "attribute name collides with a historical key attribute of table %s", table)
	}

	return b.withEntityLock(ctx, table, key, func() result.Outcome[Item] {
		current := b.backend.RawGetItem(ctx, table, key)
		if !current.IsSuccessful {
			return current
		}
		satisfied, present := EvaluateStrict(cond, current.Data)
		if !present {
			return result.Fail[Item](result.KindPreconditionFailed, "condition references a missing attribute")
		}
		if !satisfied {
			return result.Fail[Item](result.KindPreconditionFailed, "condition not satisfied")
		}
		merged := make(Item, len(current.Data)+len(patch))
		for k, v := range current.Data {
			merged[k] = v
		}
		for k, v := range patch {
			merged[k] = v
		}
		out := b.backend.RawPutItem(ctx, table, key, merged, true)
		if !out.IsSuccessful {
			return out
		}
		switch ret {
		case ReturnOldValues:
			return result.Ok(current.Data)
		case ReturnNewValues:
			return result.Ok(merged)
		default:
			return result.Ok[Item](nil)
		}
	})
}

func (b *Base) DeleteItem(ctx context.Context, table string, key primitive.DbKey, ret ReturnBehavior, cond ConditionCoupling) result.Outcome[Item] {
	if out := b.awaitUnfrozen(ctx); !out.IsSuccessful {
		return result.Fail[Item](out.Kind, "%s", out.ErrorMessage)
	}
	return b.withEntityLock(ctx, table, key, func() result.Outcome[Item] {
		current := b.backend.RawGetItem(ctx, table, key)
		if !current.IsSuccessful {
			return current
		}
		satisfied, present := EvaluateStrict(cond, current.Data)
		if !present {
			return result.Fail[Item](result.KindPreconditionFailed, "condition references a missing attribute")
		}
		if !satisfied {
			return result.Fail[Item](result.KindPreconditionFailed, "condition not satisfied")
		}
		out := b.backend.RawDeleteItem(ctx, table, key)
		if !out.IsSuccessful {
			return out
		}
		switch ret {
		case ReturnOldValues:
			return result.Ok(current.Data)
		default:
			return result.Ok[Item](nil)
		}
	})
}

func (b *Base) AddElementsToArray(ctx context.Context, table string, key primitive.DbKey, attr string, elems []primitive.Primitive) result.Outcome[Item] {
	if out := b.awaitUnfrozen(ctx); !out.IsSuccessful {
		return result.Fail[Item](out.Kind, "%s", out.ErrorMessage)
	}
	return b.withEntityLock(ctx, table, key, func() result.Outcome[Item] {
		current := b.backend.RawGetItem(ctx, table, key)
		if !current.IsSuccessful {
			return current
		}
		arr, _ := current.Data[attr].([]interface{})
		existing := make(map[string]struct{}, len(arr))
		for _, e := range arr {
			if v, ok := toPrimitive(e); ok {
				existing[v.KeyString()] = struct{}{}
			}
		}
		for _, e := range elems {
			if _, dup := existing[e.KeyString()]; dup {
				continue
			}
			existing[e.KeyString()] = struct{}{}
			arr = append(arr, e.ToJSON())
		}
		current.Data[attr] = arr
		out := b.backend.RawPutItem(ctx, table, key, current.Data, true)
		if !out.IsSuccessful {
			return out
		}
		return result.Ok(current.Data)
	})
}

func (b *Base) RemoveElementsFromArray(ctx context.Context, table string, key primitive.DbKey, attr string, elems []primitive.Primitive) result.Outcome[Item] {
	if out := b.awaitUnfrozen(ctx); !out.IsSuccessful {
		return result.Fail[Item](out.Kind, "%s", out.ErrorMessage)
	}
	return b.withEntityLock(ctx, table, key, func() result.Outcome[Item] {
		current := b.backend.RawGetItem(ctx, table, key)
		if !current.IsSuccessful {
			return current
		}
		arr, _ := current.Data[attr].([]interface{})
		remove := make(map[string]struct{}, len(elems))
		for _, e := range elems {
			remove[e.KeyString()] = struct{}{}
		}
		kept := make([]interface{}, 0, len(arr))
		for _, e := range arr {
			if v, ok := toPrimitive(e); ok {
				if _, drop := remove[v.KeyString()]; drop {
					continue
				}
			}
			kept = append(kept, e)
		}
		current.Data[attr] = kept
		out := b.backend.RawPutItem(ctx, table, key, current.Data, true)
		if !out.IsSuccessful {
			return out
		}
		return result.Ok(current.Data)
	})
}

func (b *Base) IncrementAttribute(ctx context.Context, table string, key primitive.DbKey, attr string, delta float64, cond ConditionCoupling) result.Outcome[float64] {
	if out := b.awaitUnfrozen(ctx); !out.IsSuccessful {
		return result.Fail[float64](out.Kind, "%s", out.ErrorMessage)
	}
	var newVal float64
	itemOut := b.withEntityLock(ctx, table, key, func() result.Outcome[Item] {
		current := b.backend.RawGetItem(ctx, table, key)
		if !current.IsSuccessful && current.Kind != result.KindNotFound {
			return current
		}
		data := current.Data
		if data == nil {
			data = Item{}
		}
		satisfied, present := EvaluateStrict(cond, data)
		if !present {
			return result.Fail[Item](result.KindPreconditionFailed, "condition references a missing attribute")
		}
		if !satisfied {
			return result.Fail[Item](result.KindPreconditionFailed, "condition not satisfied")
		}
		var base float64
		if v, ok := toPrimitive(data[attr]); ok {
			if f, isF := v.AsDouble(); isF {
				base = f
			} else if i, isI := v.AsInteger(); isI {
				base = float64(i)
			}
		}
		newVal = base + delta
		data[attr] = newVal
		out := b.backend.RawPutItem(ctx, table, key, data, true)
		if !out.IsSuccessful {
			return out
		}
		return result.Ok(data)
	})
	if !itemOut.IsSuccessful {
		return result.Fail[float64](itemOut.Kind, "%s", itemOut.ErrorMessage)
	}
	return result.Ok(newVal)
}

func (b *Base) ScanTable(ctx context.Context, table string) result.Outcome[ScanResult] {
	if out := b.awaitUnfrozen(ctx); !out.IsSuccessful {
		return result.Fail[ScanResult](out.Kind, "%s", out.ErrorMessage)
	}
	var scanOut result.Outcome[[]Item]
	masterOut := b.withMasterLock(ctx, table, func() result.Outcome[result.None] {
		scanOut = b.backend.RawScanTable(ctx, table)
		if !scanOut.IsSuccessful {
			return result.Fail[result.None](scanOut.Kind, "%s", scanOut.ErrorMessage)
		}
		return result.Ok(result.None{})
	})
	if !masterOut.IsSuccessful {
		return result.Fail[ScanResult](masterOut.Kind, "%s", masterOut.ErrorMessage)
	}
	return result.Ok(ScanResult{KeyNames: collectKeyNames(ctx, b, table), Items: scanOut.Data})
}

func (b *Base) ScanTablePaginated(ctx context.Context, table string, pageSize int, pageToken string) result.Outcome[ScanPage] {
	if out := b.awaitUnfrozen(ctx); !out.IsSuccessful {
		return result.Fail[ScanPage](out.Kind, "%s", out.ErrorMessage)
	}
	var pageOut result.Outcome[ScanPage]
	masterOut := b.withMasterLock(ctx, table, func() result.Outcome[result.None] {
		pageOut = b.backend.RawScanTablePaginated(ctx, table, pageSize, pageToken)
		if !pageOut.IsSuccessful {
			return result.Fail[result.None](pageOut.Kind, "%s", pageOut.ErrorMessage)
		}
		return result.Ok(result.None{})
	})
	if !masterOut.IsSuccessful {
		return result.Fail[ScanPage](masterOut.Kind, "%s", masterOut.ErrorMessage)
	}
	return pageOut
}

func (b *Base) ScanTableWithFilter(ctx context.Context, table string, cond ConditionCoupling) result.Outcome[ScanResult] {
	full := b.ScanTable(ctx, table)
	if !full.IsSuccessful {
		return full
	}
	filtered := make([]Item, 0, len(full.Data.Items))
	for _, it := range full.Data.Items {
		if Evaluate(cond, it) {
			filtered = append(filtered, it)
		}
	}
	return result.Ok(ScanResult{KeyNames: full.Data.KeyNames, Items: filtered})
}

func (b *Base) GetTableNames(ctx context.Context) result.Outcome[[]string] {
	if out := b.awaitUnfrozen(ctx); !out.IsSuccessful {
		return result.Fail[[]string](out.Kind, "%s", out.ErrorMessage)
	}
	out := b.backend.RawGetTableNames(ctx)
	if !out.IsSuccessful {
		return out
	}
	names := make([]string, 0, len(out.Data))
	for _, n := range out.Data {
		if n != b.systemTable {
			names = append(names, n)
		}
	}
	return result.Ok(names)
}

func (b *Base) DropTable(ctx context.Context, table string) result.Outcome[result.None] {
	if out := b.awaitUnfrozen(ctx); !out.IsSuccessful {
		return out
	}
	return b.withMasterLock(ctx, table, func() result.Outcome[result.None] {
		out := b.backend.RawDropTable(ctx, table)
		if !out.IsSuccessful {
			return out
		}
		return b.removeTableRegistration(ctx, table)
	})
}

func projectAttrs(item Item, attrs []string) Item {
	if item == nil || len(attrs) == 0 {
		return item
	}
	out := make(Item, len(attrs))
	for _, a := range attrs {
		if v, ok := item[a]; ok {
			out[a] = v
		}
	}
	return out
}

func collectKeyNames(ctx context.Context, b *Base, table string) []string {
	row := b.backend.RawGetItem(ctx, b.systemTable, systemRowKey(table))
	if !row.IsSuccessful {
		return nil
	}
	arr, _ := row.Data[keysArrayAttr].([]interface{})
	names := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			names = append(names, s)
		}
	}
	return names
}

func systemRowKey(table string) primitive.DbKey {
	k, _ := primitive.NewDbKey(keyAttrName, primitive.String(table))
	return k
}

var _ Database = (*Base)(nil)
