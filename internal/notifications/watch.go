package notifications

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"

	"github.com/cenkalti/backoff/v5"
)

// DefaultStaleAfter is the number of consecutive failures before OnStale(true) fires.
const DefaultStaleAfter = 3

// Snapshot is a full view of a subject at Revision.
type Snapshot[T any] struct {
	Revision int64
	Data     T
}

// FetchFunc reads the current snapshot from the store.
type FetchFunc[T any] func(ctx context.Context) (Snapshot[T], error)

// WatchOptions configures a live subscription.
type WatchOptions struct {
	// Topic labels metrics and logs, e.g. "thread".
	Topic    string
	Channels []string
	// Unordered marks snapshots whose revision is not comparable across
	// fetches, such as the aggregate feed. Every fetched snapshot is then
	// delivered and stamped with a per-subscription sequence number.
	Unordered  bool
	StaleAfter int
	// OnStale is called from the worker when the subscription becomes stale
	// (true) and when it recovers (false).
	OnStale    func(stale bool)
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Subscription is a scoped live subscription. Release it with Unsubscribe or
// by cancelling the context passed to Watch.
type Subscription struct {
	topic      string
	cancel     context.CancelFunc
	done       chan struct{}
	once       sync.Once
	inCallback atomic.Bool
	err        error
}

// Unsubscribe stops the subscription. It is idempotent and safe to call from
// inside the callback. When it returns no new callback will begin; called
// from another goroutine it also waits for the worker to exit.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
	if s.inCallback.Load() {
		return
	}
	<-s.done
}

// Done is closed when the worker has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the worker exited: nil after Unsubscribe or cancellation,
// a NotFound AppError when the watched subject was deleted.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Topic returns the subscription's topic label.
func (s *Subscription) Topic() string { return s.topic }

// Watch delivers the current snapshot to cb, then a fresh snapshot after
// every event on opts.Channels. Snapshots arrive sequentially from one worker
// goroutine and never go backwards in revision. Broker and store failures are
// retried with exponential backoff.
func Watch[T any](ctx context.Context, b Broker, opts WatchOptions, fetch FetchFunc[T], cb func(Snapshot[T])) (*Subscription, error) {
	if b == nil || fetch == nil || cb == nil {
		return nil, errors.New("notifications: broker, fetch and callback are required")
	}
	if len(opts.Channels) == 0 {
		return nil, errors.New("notifications: at least one channel is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.StaleAfter < 1 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 100 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(10*time.Second, opts.MinBackoff)
	}

	wctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{topic: opts.Topic, cancel: cancel, done: make(chan struct{})}
	w := &watcher[T]{
		sub:   sub,
		b:     b,
		opts:  opts,
		fetch: fetch,
		cb:    cb,
		last:  -1,
		log:   observability.NewLiveLogger("watch"),
	}
	go w.run(wctx)
	return sub, nil
}

type watcher[T any] struct {
	sub      *Subscription
	b        Broker
	opts     WatchOptions
	fetch    FetchFunc[T]
	cb       func(Snapshot[T])
	last     int64
	seq      int64
	failures int
	stale    bool
	log      *observability.LiveLogger
}

func (w *watcher[T]) run(ctx context.Context) {
	gauge := observability.ActiveSubscriptions.WithLabelValues(w.opts.Topic)
	gauge.Inc()
	defer func() {
		gauge.Dec()
		w.sub.cancel()
		close(w.sub.done)
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.opts.MinBackoff
	bo.MaxInterval = w.opts.MaxBackoff

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			observability.SubscriptionReconnects.WithLabelValues(w.opts.Topic).Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(bo.NextBackOff()):
			}
		}

		stream, err := w.b.Subscribe(ctx, w.opts.Channels...)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.fail(ctx, err)
			continue
		}

		// Refetch after every (re)subscribe so changes made while
		// disconnected are picked up.
		if done := w.refresh(ctx); done {
			_ = stream.Close()
			return
		}
		if w.failures > 0 {
			_ = stream.Close()
			continue
		}
		bo.Reset()

		if done := w.consume(ctx, stream); done {
			return
		}
	}
}

// consume reads events until the stream breaks (false) or the worker must stop (true).
func (w *watcher[T]) consume(ctx context.Context, stream Stream) bool {
	defer func() { _ = stream.Close() }()
	for {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-stream.C():
			if !ok {
				if ctx.Err() != nil {
					return true
				}
				w.fail(ctx, ErrBrokerUnavailable)
				return false
			}
			if !w.opts.Unordered && ev.Revision != 0 && ev.Revision <= w.last {
				continue
			}
			if done := w.refresh(ctx); done {
				return true
			}
			if w.failures > 0 {
				// the store is failing; resubscribe through the backoff loop
				return false
			}
		}
	}
}

// refresh fetches and delivers a snapshot. It returns true when the worker must stop.
func (w *watcher[T]) refresh(ctx context.Context) bool {
	snap, err := w.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		if models.IsNotFound(err) {
			w.sub.err = err
			w.log.Lifecycle(ctx, "gone", w.opts.Topic, nil)
			return true
		}
		w.fail(ctx, err)
		return false
	}

	w.healthy(ctx)
	if w.opts.Unordered {
		w.seq++
		snap.Revision = w.seq
	} else if snap.Revision <= w.last {
		return false
	}
	w.last = snap.Revision
	return !w.deliver(ctx, snap)
}

// deliver runs the callback unless the subscription was released. It
// returns false when the worker must stop.
func (w *watcher[T]) deliver(ctx context.Context, snap Snapshot[T]) bool {
	if ctx.Err() != nil {
		return false
	}
	w.sub.inCallback.Store(true)
	defer w.sub.inCallback.Store(false)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC in %s subscription callback: %v\n%s", w.opts.Topic, r, debug.Stack())
		}
	}()
	w.cb(snap)
	return true
}

func (w *watcher[T]) fail(ctx context.Context, err error) {
	w.failures++
	w.log.Error(ctx, w.opts.Topic, fmt.Errorf("attempt %d: %w", w.failures, err))
	if !w.stale && w.failures >= w.opts.StaleAfter {
		w.stale = true
		w.log.Lifecycle(ctx, "stale", w.opts.Topic, map[string]any{"failures": w.failures})
		w.notifyStale(true)
	}
}

func (w *watcher[T]) healthy(ctx context.Context) {
	w.failures = 0
	if w.stale {
		w.stale = false
		w.log.Lifecycle(ctx, "recovered", w.opts.Topic, nil)
		w.notifyStale(false)
	}
}

func (w *watcher[T]) notifyStale(stale bool) {
	if w.opts.OnStale == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC in %s stale hook: %v\n%s", w.opts.Topic, r, debug.Stack())
		}
	}()
	w.opts.OnStale(stale)
}
