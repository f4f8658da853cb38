package dbcore

import (
	"context"

	"github.com/bkio/crosscloudkit/primitive"
	"github.com/bkio/crosscloudkit/result"
)

// checkAttributeSanity implements spec §4.5's "Attribute-name sanity":
// before a Put/Update on table, no attribute name in item may already
// appear in the system table's historical `keys` array for table, except
// for key.Name itself (which is expected to collide with its own
// registration).
func (b *Base) checkAttributeSanity(ctx context.Context, table string, key primitive.DbKey, item Item) (bool, result.Outcome[result.None]) {
	if table == b.systemTable {
		return true, result.Ok(result.None{})
	}
	b.systemMu.Lock()
	defer b.systemMu.Unlock()

	row := b.backend.RawGetItem(ctx, b.systemTable, systemRowKey(table))
	if !row.IsSuccessful {
		if row.Kind == result.KindNotFound {
			return true, result.Ok(result.None{})
		}
		return false, result.Fail[result.None](row.Kind, "%s", row.ErrorMessage)
	}
	arr, _ := row.Data[keysArrayAttr].([]interface{})
	historical := make(map[string]struct{}, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			historical[s] = struct{}{}
		}
	}
	for attr := range item {
		if attr == key.Name {
			continue
		}
		if _, clash := historical[attr]; clash {
			return false, result.Ok(result.None{})
		}
	}
	return true, result.Ok(result.None{})
}

// ensureKeyRegistered appends keyName to the system-table row for table
// if it is not already present (spec §4.5: "conditionally, so repeated
// inserts are no-ops"). Must be called with the entity lock for (table,
// key) already held by the caller's PutItem, so this only needs to guard
// against concurrent PutItems on *other* keys of the same table.
func (b *Base) ensureKeyRegistered(ctx context.Context, table, keyName string) result.Outcome[result.None] {
	b.systemMu.Lock()
	defer b.systemMu.Unlock()

	rowKey := systemRowKey(table)
	row := b.backend.RawGetItem(ctx, b.systemTable, rowKey)
	if row.IsSuccessful {
		arr, _ := row.Data[keysArrayAttr].([]interface{})
		for _, e := range arr {
			if s, ok := e.(string); ok && s == keyName {
				return result.Ok(result.None{})
			}
		}
		arr = append(arr, keyName)
		row.Data[keysArrayAttr] = arr
		out := b.backend.RawPutItem(ctx, b.systemTable, rowKey, row.Data, true)
		if !out.IsSuccessful {
			return result.Fail[result.None](out.Kind, "%s", out.ErrorMessage)
		}
		return result.Ok(result.None{})
	}
	if row.Kind != result.KindNotFound {
		return result.Fail[result.None](row.Kind, "%s", row.ErrorMessage)
	}
	newRow := Item{keyAttrName: table, keysArrayAttr: []interface{}{keyName}}
	out := b.backend.RawPutItem(ctx, b.systemTable, rowKey, newRow, true)
	if !out.IsSuccessful {
		return result.Fail[result.None](out.Kind, "%s", out.ErrorMessage)
	}
	return result.Ok(result.None{})
}

// removeTableRegistration drops table's system-table row after a
// successful DropTable, and drops the system table itself once it holds
// no more rows (spec §3, §4.5).
func (b *Base) removeTableRegistration(ctx context.Context, table string) result.Outcome[result.None] {
	b.systemMu.Lock()
	defer b.systemMu.Unlock()

	del := b.backend.RawDeleteItem(ctx, b.systemTable, systemRowKey(table))
	if !del.IsSuccessful && del.Kind != result.KindNotFound {
		return result.Fail[result.None](del.Kind, "%s", del.ErrorMessage)
	}
	remaining := b.backend.RawScanTable(ctx, b.systemTable)
	if remaining.IsSuccessful && len(remaining.Data) == 0 {
		b.backend.RawDropTable(ctx, b.systemTable)
	}
	return result.Ok(result.None{})
}
