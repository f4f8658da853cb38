package dbcore_test

import (
	"context"
	"testing"

	"github.com/bkio/crosscloudkit/dbcore"
	"github.com/bkio/crosscloudkit/dbcore/memdb"
	"github.com/bkio/crosscloudkit/memory/buntmem"
	"github.com/bkio/crosscloudkit/primitive"
)

func newBase(t *testing.T) *dbcore.Base {
	t.Helper()
	mem, err := buntmem.New(":memory:", nil)
	if err != nil {
		t.Fatalf("buntmem.New: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })
	backend := memdb.New()
	base := dbcore.NewBase(context.Background(), backend, mem, nil, "test", "", nil)
	t.Cleanup(base.Close)
	return base
}

func key(t *testing.T, name string, v primitive.Primitive) primitive.DbKey {
	t.Helper()
	k, ok := primitive.NewDbKey(name, v)
	if !ok {
		t.Fatalf("invalid DbKey %s", name)
	}
	return k
}

func TestPutGetRoundTrip(t *testing.T) {
	b := newBase(t)
	ctx := context.Background()
	k := key(t, "id", primitive.String("u1"))

	put := b.PutItem(ctx, "users", k, dbcore.Item{"id": "u1", "name": "Ada"}, dbcore.DoNotReturn, true)
	if !put.IsSuccessful {
		t.Fatalf("put: %s", put.ErrorMessage)
	}
	got := b.GetItem(ctx, "users", k, nil)
	if !got.IsSuccessful || got.Data["name"] != "Ada" {
		t.Fatalf("get: %+v", got)
	}
}

func TestPutItemRejectsOverwriteWhenNotAllowed(t *testing.T) {
	b := newBase(t)
	ctx := context.Background()
	k := key(t, "id", primitive.String("u1"))

	_ = b.PutItem(ctx, "users", k, dbcore.Item{"id": "u1"}, dbcore.DoNotReturn, true)
	out := b.PutItem(ctx, "users", k, dbcore.Item{"id": "u1"}, dbcore.DoNotReturn, false)
	if out.IsSuccessful {
		t.Fatalf("expected conflict on non-overwrite put, got success")
	}
}

func TestAttributeSanityRejectsKeyNameCollision(t *testing.T) {
	b := newBase(t)
	ctx := context.Background()

	// First item is keyed by "score" — this registers "score" as a
	// historical key-attribute name for the "things" table.
	keyedByScore := key(t, "score", primitive.Integer(1))
	if out := b.PutItem(ctx, "things", keyedByScore, dbcore.Item{"score": int64(1)}, dbcore.DoNotReturn, true); !out.IsSuccessful {
		t.Fatalf("first put: %s", out.ErrorMessage)
	}

	// A later item keyed differently must not carry "score" as a plain
	// attribute: key-attribute names and non-key attribute names are
	// disjoint per user-table (spec §4.5).
	keyedByID := key(t, "id", primitive.String("x1"))
	collide := b.PutItem(ctx, "things", keyedByID, dbcore.Item{"id": "x1", "score": int64(9)}, dbcore.DoNotReturn, true)
	if collide.IsSuccessful {
		t.Fatalf("expected rejection of 'score' as a plain attribute after it was used as a key name")
	}
}

func TestUpdateItemConditionGating(t *testing.T) {
	b := newBase(t)
	ctx := context.Background()
	k := key(t, "id", primitive.String("u1"))
	_ = b.PutItem(ctx, "users", k, dbcore.Item{"id": "u1", "status": "active"}, dbcore.DoNotReturn, true)

	cond := dbcore.Single(dbcore.Equals("status", primitive.String("inactive")))
	out := b.UpdateItem(ctx, "users", k, dbcore.Item{"status": "banned"}, dbcore.DoNotReturn, cond)
	if out.IsSuccessful {
		t.Fatalf("expected condition mismatch to fail the update")
	}

	cond2 := dbcore.Single(dbcore.Equals("status", primitive.String("active")))
	out2 := b.UpdateItem(ctx, "users", k, dbcore.Item{"status": "banned"}, dbcore.ReturnNewValues, cond2)
	if !out2.IsSuccessful || out2.Data["status"] != "banned" {
		t.Fatalf("expected update to apply, got %+v", out2)
	}
}

func TestDeleteItemAndDropTable(t *testing.T) {
	b := newBase(t)
	ctx := context.Background()
	k := key(t, "id", primitive.String("u1"))
	_ = b.PutItem(ctx, "users", k, dbcore.Item{"id": "u1"}, dbcore.DoNotReturn, true)

	del := b.DeleteItem(ctx, "users", k, dbcore.DoNotReturn, dbcore.Empty())
	if !del.IsSuccessful {
		t.Fatalf("delete: %s", del.ErrorMessage)
	}
	exists := b.ItemExists(ctx, "users", k, dbcore.Empty())
	if !exists.IsSuccessful || exists.Data {
		t.Fatalf("expected item gone after delete, got %+v", exists)
	}

	_ = b.PutItem(ctx, "users", k, dbcore.Item{"id": "u1"}, dbcore.DoNotReturn, true)
	if out := b.DropTable(ctx, "users"); !out.IsSuccessful {
		t.Fatalf("drop table: %s", out.ErrorMessage)
	}
	names := b.GetTableNames(ctx)
	if !names.IsSuccessful || len(names.Data) != 0 {
		t.Fatalf("expected no tables after drop, got %+v", names.Data)
	}
}

func TestArrayElementOperations(t *testing.T) {
	b := newBase(t)
	ctx := context.Background()
	k := key(t, "id", primitive.String("u1"))
	_ = b.PutItem(ctx, "users", k, dbcore.Item{"id": "u1", "tags": []interface{}{}}, dbcore.DoNotReturn, true)

	added := b.AddElementsToArray(ctx, "users", k, "tags", []primitive.Primitive{primitive.String("a"), primitive.String("b")})
	if !added.IsSuccessful {
		t.Fatalf("add elements: %s", added.ErrorMessage)
	}
	tags, _ := added.Data["tags"].([]interface{})
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", tags)
	}

	removed := b.RemoveElementsFromArray(ctx, "users", k, "tags", []primitive.Primitive{primitive.String("a")})
	if !removed.IsSuccessful {
		t.Fatalf("remove elements: %s", removed.ErrorMessage)
	}
	tags, _ = removed.Data["tags"].([]interface{})
	if len(tags) != 1 || tags[0] != "b" {
		t.Fatalf("expected only 'b' left, got %v", tags)
	}
}

func TestIncrementAttribute(t *testing.T) {
	b := newBase(t)
	ctx := context.Background()
	k := key(t, "id", primitive.String("counter1"))
	_ = b.PutItem(ctx, "counters", k, dbcore.Item{"id": "counter1", "hits": int64(5)}, dbcore.DoNotReturn, true)

	out := b.IncrementAttribute(ctx, "counters", k, "hits", 3, dbcore.Empty())
	if !out.IsSuccessful || out.Data != 8 {
		t.Fatalf("expected 8, got %+v", out)
	}
}

func TestScanTableReturnsKeyNames(t *testing.T) {
	b := newBase(t)
	ctx := context.Background()
	_ = b.PutItem(ctx, "users", key(t, "id", primitive.String("u1")), dbcore.Item{"id": "u1"}, dbcore.DoNotReturn, true)
	_ = b.PutItem(ctx, "users", key(t, "id", primitive.String("u2")), dbcore.Item{"id": "u2"}, dbcore.DoNotReturn, true)

	scan := b.ScanTable(ctx, "users")
	if !scan.IsSuccessful || len(scan.Data.Items) != 2 {
		t.Fatalf("scan: %+v", scan)
	}
	if len(scan.Data.KeyNames) != 1 || scan.Data.KeyNames[0] != "id" {
		t.Fatalf("expected key name 'id', got %v", scan.Data.KeyNames)
	}
}
