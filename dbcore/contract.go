// Package dbcore defines the Database abstraction of spec §4.5: a uniform
// table/item API over JSON-shaped rows, a condition-expression DSL, and a
// Base implementation enforcing per-(table,key)/per-table serialization,
// backup-freeze cooperation, and system-table attribute-name bookkeeping.
// Concrete storage lives in subpackages (e.g. dbcore/memdb).
package dbcore

import (
	"context"

	"github.com/bkio/crosscloudkit/primitive"
	"github.com/bkio/crosscloudkit/result"
)

// ReturnBehavior selects what a mutating operation hands back (spec §4.5).
type ReturnBehavior int

const (
	DoNotReturn ReturnBehavior = iota
	ReturnOldValues
	ReturnNewValues
)

// ScanPage is one page of ScanTablePaginated (spec §4.5). TotalCount is
// nil when the backend cannot cheaply compute it.
type ScanPage struct {
	Items         []Item
	NextPageToken *string
	TotalCount    *int
}

// ScanResult is the payload of ScanTable: every key-attribute name the
// system table has recorded for the table (not derived from the scanned
// items), plus the items themselves (spec §4.5: "returns (list of key
// attribute names seen, items)").
type ScanResult struct {
	KeyNames []string
	Items    []Item
}

// Database is the table/item API of spec §4.5. Every operation is
// cancellable; Backend implementations are wrapped by Base, which supplies
// serialization, backup-freeze cooperation, and attribute sanity checking
// on top of a Backend's storage primitives.
type Database interface {
	ItemExists(ctx context.Context, table string, key primitive.DbKey, cond ConditionCoupling) result.Outcome[bool]
	GetItem(ctx context.Context, table string, key primitive.DbKey, attrs []string) result.Outcome[Item]
	GetItems(ctx context.Context, table string, keys []primitive.DbKey, attrs []string) result.Outcome[[]Item]
	PutItem(ctx context.Context, table string, key primitive.DbKey, item Item, ret ReturnBehavior, overwriteIfExists bool) result.Outcome[Item]
	UpdateItem(ctx context.Context, table string, key primitive.DbKey, patch Item, ret ReturnBehavior, cond ConditionCoupling) result.Outcome[Item]
	DeleteItem(ctx context.Context, table string, key primitive.DbKey, ret ReturnBehavior, cond ConditionCoupling) result.Outcome[Item]
	AddElementsToArray(ctx context.Context, table string, key primitive.DbKey, attr string, elems []primitive.Primitive) result.Outcome[Item]
	RemoveElementsFromArray(ctx context.Context, table string, key primitive.DbKey, attr string, elems []primitive.Primitive) result.Outcome[Item]
	IncrementAttribute(ctx context.Context, table string, key primitive.DbKey, attr string, delta float64, cond ConditionCoupling) result.Outcome[float64]
	ScanTable(ctx context.Context, table string) result.Outcome[ScanResult]
	ScanTablePaginated(ctx context.Context, table string, pageSize int, pageToken string) result.Outcome[ScanPage]
	ScanTableWithFilter(ctx context.Context, table string, cond ConditionCoupling) result.Outcome[ScanResult]
	GetTableNames(ctx context.Context) result.Outcome[[]string]
	DropTable(ctx context.Context, table string) result.Outcome[result.None]
}

// Backend is the narrow storage primitive a concrete Database plugs into
// Base with: raw, unserialized, unvalidated item storage keyed by
// (table, key). Base is the only caller; it supplies every guarantee
// spec §4.5 asks of "Database" (serialization, freeze cooperation,
// attribute sanity) around these primitives.
type Backend interface {
	RawGetItem(ctx context.Context, table string, key primitive.DbKey) result.Outcome[Item]
	RawPutItem(ctx context.Context, table string, key primitive.DbKey, item Item, overwriteIfExists bool) result.Outcome[Item]
	RawDeleteItem(ctx context.Context, table string, key primitive.DbKey) result.Outcome[Item]
	RawScanTable(ctx context.Context, table string) result.Outcome[[]Item]
	RawScanTablePaginated(ctx context.Context, table string, pageSize int, pageToken string) result.Outcome[ScanPage]
	RawDropTable(ctx context.Context, table string) result.Outcome[result.None]
	RawGetTableNames(ctx context.Context) result.Outcome[[]string]
}
