package mutexcore

import (
	"context"
	"testing"
	"time"

	"github.com/bkio/crosscloudkit/memory"
	"github.com/bkio/crosscloudkit/memory/buntmem"
)

func newMem(t *testing.T) *buntmem.Store {
	t.Helper()
	s, err := buntmem.New(":memory:", nil)
	if err != nil {
		t.Fatalf("buntmem.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	mem := newMem(t)
	scope := memory.NewScope("test")
	ctx := context.Background()

	out := Acquire(ctx, mem, scope, "lock-a", time.Minute)
	if !out.IsSuccessful {
		t.Fatalf("acquire: %s", out.ErrorMessage)
	}
	h := out.Data
	if rel := h.Release(ctx); !rel.IsSuccessful {
		t.Fatalf("release: %s", rel.ErrorMessage)
	}
	// Double release is a no-op.
	if rel := h.Release(ctx); !rel.IsSuccessful {
		t.Fatalf("double release should be a no-op success, got %+v", rel)
	}
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	mem := newMem(t)
	scope := memory.NewScope("test")
	ctx := context.Background()

	first := Acquire(ctx, mem, scope, "lock-b", time.Minute)
	if !first.IsSuccessful {
		t.Fatalf("first acquire: %s", first.ErrorMessage)
	}

	done := make(chan struct{})
	go func() {
		second := Acquire(ctx, mem, scope, "lock-b", time.Minute)
		if !second.IsSuccessful {
			t.Errorf("second acquire: %s", second.ErrorMessage)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("second Acquire returned before first Release")
	case <-time.After(150 * time.Millisecond):
	}

	if rel := first.Data.Release(ctx); !rel.IsSuccessful {
		t.Fatalf("release: %s", rel.ErrorMessage)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("second Acquire never completed after release")
	}
}

func TestAcquireRespectsCancellation(t *testing.T) {
	mem := newMem(t)
	scope := memory.NewScope("test")
	ctx := context.Background()

	held := Acquire(ctx, mem, scope, "lock-c", time.Minute)
	if !held.IsSuccessful {
		t.Fatalf("acquire: %s", held.ErrorMessage)
	}
	defer held.Data.Release(ctx)

	cctx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	out := Acquire(cctx, mem, scope, "lock-c", time.Minute)
	if out.IsSuccessful {
		t.Fatalf("expected cancellation failure, got success")
	}
}
