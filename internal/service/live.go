package service

import (
	"context"
	"time"

	"campusfeed/internal/notifications"
)

// Live is the notification wiring shared by the services.
type Live struct {
	Broker     notifications.Broker
	StaleAfter int
}

// SubscribeOption adjusts a live subscription.
type SubscribeOption func(*notifications.WatchOptions)

// WithStaleHook registers fn to be told when the subscription goes stale and when it recovers.
func WithStaleHook(fn func(stale bool)) SubscribeOption {
	return func(o *notifications.WatchOptions) { o.OnStale = fn }
}

// WithBackoff bounds the reconnect delay.
func WithBackoff(minDelay, maxDelay time.Duration) SubscribeOption {
	return func(o *notifications.WatchOptions) {
		o.MinBackoff = minDelay
		o.MaxBackoff = maxDelay
	}
}

func (l Live) options(topic string, channels []string, opts []SubscribeOption) notifications.WatchOptions {
	o := notifications.WatchOptions{
		Topic:      topic,
		Channels:   channels,
		StaleAfter: l.StaleAfter,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// publish announces a committed change. The write already happened, so a
// cancelled request must not suppress the event.
func (l Live) publish(ctx context.Context, ev notifications.Event, channels ...string) {
	notifications.PublishAll(context.WithoutCancel(ctx), l.Broker, ev, channels...)
}
