// Package localbus is the in-process reference PubSubService backend: a
// fanout of buffered channels per topic. It exists to make memory/buntmem,
// dbcore, and backup testable end-to-end without a production broker —
// spec.md §1 excludes the production adapters (SNS, GCP Pub/Sub, ...) from
// this repo's scope, not the existence of a reference bus.
package localbus

import (
	"context"
	"strings"
	"sync"

	"github.com/bkio/crosscloudkit/pubsub"
	"github.com/bkio/crosscloudkit/result"
	"github.com/golang/glog"
	cuckoo "github.com/seiflotfy/cuckoofilter"
)

// deliveryBuffer bounds how many undelivered messages a slow subscriber
// may accumulate before Publish blocks on it.
const deliveryBuffer = 128

type subscriberFunc struct {
	onMessage pubsub.MessageHandler
	onError   pubsub.ErrorHandler
	ch        chan string
	cancelCh  chan struct{}
	once      sync.Once
}

func (s *subscriberFunc) Cancel() {
	s.once.Do(func() { close(s.cancelCh) })
}

// pump drains s.ch in order. One goroutine per subscriber keeps
// per-subscriber delivery ordering intact: a later Publish on the same
// topic is never observed before an earlier one.
func (s *subscriberFunc) pump() {
	for {
		select {
		case <-s.cancelCh:
			return
		case msg := <-s.ch:
			s.deliver(msg)
		}
	}
}

func (s *subscriberFunc) deliver(msg string) {
	defer func() {
		if r := recover(); r != nil {
			s.reportError(errFromRecover(r))
		}
	}()
	if err := s.onMessage(msg); err != nil {
		s.reportError(err)
	}
}

func (s *subscriberFunc) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
		return
	}
	glog.Errorf("localbus: subscriber error: %v", err)
}

// Bus is the in-process fanout PubSubService.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscriberFunc

	bucketMu     sync.Mutex
	bucketTopics map[string]struct{} // canonical set: enumerable
	bucketFilter *cuckoo.Filter      // fast approximate membership cache
}

// New constructs an empty in-process bus.
func New() *Bus {
	return &Bus{
		subs:         make(map[string][]*subscriberFunc),
		bucketTopics: make(map[string]struct{}),
		bucketFilter: cuckoo.NewFilter(1024),
	}
}

func (b *Bus) EnsureTopicExists(ctx context.Context, topic string) result.Outcome[result.None] {
	if strings.TrimSpace(topic) == "" {
		return result.Fail[result.None](result.KindInvalidInput, "empty topic")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[topic]; !ok {
		b.subs[topic] = nil
	}
	return result.Ok(result.None{})
}

func (b *Bus) DeleteTopic(ctx context.Context, topic string) result.Outcome[result.None] {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[topic] {
		s.Cancel()
	}
	delete(b.subs, topic)
	return result.Ok(result.None{})
}

func (b *Bus) Subscribe(ctx context.Context, topic string, onMessage pubsub.MessageHandler, onError pubsub.ErrorHandler) result.Outcome[pubsub.Subscription] {
	if strings.TrimSpace(topic) == "" {
		return result.Fail[pubsub.Subscription](result.KindInvalidInput, "empty topic")
	}
	sub := &subscriberFunc{
		onMessage: onMessage,
		onError:   onError,
		ch:        make(chan string, deliveryBuffer),
		cancelCh:  make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	go sub.pump()
	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-sub.cancelCh:
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		existing := b.subs[topic]
		for i, s := range existing {
			if s == sub {
				b.subs[topic] = append(existing[:i], existing[i+1:]...)
				break
			}
		}
	}()

	return result.Ok[pubsub.Subscription](sub)
}

func (b *Bus) Publish(ctx context.Context, topic string, message string) result.Outcome[result.None] {
	if strings.TrimSpace(topic) == "" {
		return result.Fail[result.None](result.KindInvalidInput, "empty topic")
	}
	if message == "" {
		return result.Fail[result.None](result.KindInvalidInput, "empty message")
	}
	b.mu.Lock()
	subs := append([]*subscriberFunc{}, b.subs[topic]...)
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- message:
		case <-s.cancelCh:
		case <-ctx.Done():
			return result.Fail[result.None](result.KindCancelled, "publish to %q cancelled", topic)
		}
	}
	return result.Ok(result.None{})
}

func (b *Bus) MarkUsedOnBucketEvent(ctx context.Context, topic string) result.Outcome[result.None] {
	b.bucketMu.Lock()
	defer b.bucketMu.Unlock()
	b.bucketTopics[topic] = struct{}{}
	b.bucketFilter.InsertUnique([]byte(topic))
	return result.Ok(result.None{})
}

func (b *Bus) UnmarkUsedOnBucketEvent(ctx context.Context, topic string) result.Outcome[result.None] {
	b.bucketMu.Lock()
	defer b.bucketMu.Unlock()
	delete(b.bucketTopics, topic)
	b.bucketFilter.Delete([]byte(topic))
	return result.Ok(result.None{})
}

func (b *Bus) GetTopicsUsedOnBucketEvent(ctx context.Context) result.Outcome[[]string] {
	b.bucketMu.Lock()
	defer b.bucketMu.Unlock()
	out := make([]string, 0, len(b.bucketTopics))
	for t := range b.bucketTopics {
		out = append(out, t)
	}
	return result.Ok(out)
}

// IsLikelyUsedOnBucketEvent is an O(1) approximate membership check backed
// by the cuckoo filter, for hot paths (e.g. file-service cleanup loops)
// that want to skip the authoritative map lookup in the common case.
// False positives are possible; false negatives are not.
func (b *Bus) IsLikelyUsedOnBucketEvent(topic string) bool {
	b.bucketMu.Lock()
	defer b.bucketMu.Unlock()
	return b.bucketFilter.Lookup([]byte(topic))
}

func errFromRecover(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &recoveredPanic{v: r}
}

type recoveredPanic struct{ v interface{} }

func (p *recoveredPanic) Error() string { return "panic in subscriber: " + toString(p.v) }

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown"
}

var _ pubsub.PubSubService = (*Bus)(nil)
