// Package pubsub defines the at-least-once topic publish/subscribe contract
// of spec §4.3: PubSubService, topic lifecycle, and the bucket-event
// marker set used by the file service for cleanup bookkeeping.
package pubsub

import (
	"context"

	"github.com/bkio/crosscloudkit/result"
)

// MessageHandler receives one delivered message per invocation. A non-nil
// return value is treated as a processing error and routed to the
// subscription's error handler; it never stops delivery of subsequent
// messages.
type MessageHandler func(message string) error

// ErrorHandler is invoked for delivery/processing errors on a subscription.
type ErrorHandler func(err error)

// Subscription is the handle returned by Subscribe; Cancel stops delivery.
type Subscription interface {
	Cancel()
}

// PubSubService is the at-least-once topic bus of spec §4.3. Delivery is
// best-effort and may duplicate; consumers (chiefly dbcore's backup-freeze
// subscriber) must tolerate duplicate `started`/`ended` messages.
type PubSubService interface {
	EnsureTopicExists(ctx context.Context, topic string) result.Outcome[result.None]
	DeleteTopic(ctx context.Context, topic string) result.Outcome[result.None]

	// Subscribe registers onMessage/onError against topic until ctx is
	// cancelled or the returned Subscription is cancelled. Multiple
	// subscribers on one topic must each receive every message (fanout).
	Subscribe(ctx context.Context, topic string, onMessage MessageHandler, onError ErrorHandler) result.Outcome[Subscription]

	Publish(ctx context.Context, topic string, message string) result.Outcome[result.None]

	// Bucket-event marker set (spec §4.3): tracks which topics are in use
	// as file-bucket change notification targets, for the file service's
	// cleanup bookkeeping. Not part of the backup core.
	MarkUsedOnBucketEvent(ctx context.Context, topic string) result.Outcome[result.None]
	UnmarkUsedOnBucketEvent(ctx context.Context, topic string) result.Outcome[result.None]
	GetTopicsUsedOnBucketEvent(ctx context.Context) result.Outcome[[]string]
}
