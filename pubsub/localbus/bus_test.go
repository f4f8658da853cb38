package localbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestFanoutDeliversToEverySubscriber(t *testing.T) {
	b := New()
	ctx := context.Background()
	var mu sync.Mutex
	var got []string

	recv := func(n int) {
		out := b.Subscribe(ctx, "topic-a", func(msg string) error {
			mu.Lock()
			got = append(got, msg)
			mu.Unlock()
			return nil
		}, nil)
		if !out.IsSuccessful {
			t.Fatalf("subscribe %d failed: %s", n, out.ErrorMessage)
		}
	}
	recv(1)
	recv(2)

	if out := b.Publish(ctx, "topic-a", "hello"); !out.IsSuccessful {
		t.Fatalf("publish failed: %s", out.ErrorMessage)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected fanout to 2 subscribers, got %d deliveries", len(got))
	}
}

func TestDeliveryOrderIsPreservedPerSubscriber(t *testing.T) {
	b := New()
	ctx := context.Background()
	var mu sync.Mutex
	var got []string

	out := b.Subscribe(ctx, "ordered", func(msg string) error {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
		return nil
	}, nil)
	if !out.IsSuccessful {
		t.Fatalf("subscribe failed: %s", out.ErrorMessage)
	}

	for _, msg := range []string{"started", "ended"} {
		if out := b.Publish(ctx, "ordered", msg); !out.IsSuccessful {
			t.Fatalf("publish %q failed: %s", msg, out.ErrorMessage)
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "started" || got[1] != "ended" {
		t.Fatalf("expected in-order delivery [started ended], got %v", got)
	}
}

func TestPublishRejectsEmptyTopicOrMessage(t *testing.T) {
	b := New()
	ctx := context.Background()
	if out := b.Publish(ctx, "", "x"); out.IsSuccessful {
		t.Errorf("expected failure for empty topic")
	}
	if out := b.Publish(ctx, "t", ""); out.IsSuccessful {
		t.Errorf("expected failure for empty message")
	}
}

func TestBucketEventMarkerSet(t *testing.T) {
	b := New()
	ctx := context.Background()
	b.MarkUsedOnBucketEvent(ctx, "bucket-topic")
	if !b.IsLikelyUsedOnBucketEvent("bucket-topic") {
		t.Errorf("expected marked topic to be likely-present")
	}
	out := b.GetTopicsUsedOnBucketEvent(ctx)
	if len(out.Data) != 1 || out.Data[0] != "bucket-topic" {
		t.Errorf("expected exactly one tracked topic, got %v", out.Data)
	}
	b.UnmarkUsedOnBucketEvent(ctx, "bucket-topic")
	out = b.GetTopicsUsedOnBucketEvent(ctx)
	if len(out.Data) != 0 {
		t.Errorf("expected no tracked topics after unmark, got %v", out.Data)
	}
}
