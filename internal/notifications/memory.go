package notifications

import (
	"context"
	"sync"
)

// streamBuffer is the per-stream queue length. Events are signals to
// refetch, so dropping one when the queue is full loses nothing: a queued
// event already guarantees a later refetch.
const streamBuffer = 64

// MemoryBroker is an in-process Broker for single-instance deployments and tests.
type MemoryBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[*memoryStream]struct{}
	unavailable bool
}

// NewMemoryBroker creates an empty hub.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subscribers: make(map[string]map[*memoryStream]struct{})}
}

type memoryStream struct {
	hub      *MemoryBroker
	channels []string
	ch       chan Event
	once     sync.Once
	mu       sync.Mutex
	closed   bool
}

func (s *memoryStream) C() <-chan Event { return s.ch }

func (s *memoryStream) Close() error {
	s.once.Do(func() {
		s.hub.remove(s)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
	return nil
}

func (s *memoryStream) send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// Subscribe registers a stream on channels. The stream closes when ctx ends.
func (b *MemoryBroker) Subscribe(ctx context.Context, channels ...string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &memoryStream{hub: b, channels: channels, ch: make(chan Event, streamBuffer)}

	b.mu.Lock()
	if b.unavailable {
		b.mu.Unlock()
		return nil, ErrBrokerUnavailable
	}
	for _, ch := range channels {
		set, ok := b.subscribers[ch]
		if !ok {
			set = make(map[*memoryStream]struct{})
			b.subscribers[ch] = set
		}
		set[s] = struct{}{}
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	return s, nil
}

// Publish delivers ev to every stream subscribed to channel without blocking.
func (b *MemoryBroker) Publish(ctx context.Context, channel string, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev.Channel = channel

	b.mu.RLock()
	if b.unavailable {
		b.mu.RUnlock()
		return ErrBrokerUnavailable
	}
	targets := make([]*memoryStream, 0, len(b.subscribers[channel]))
	for s := range b.subscribers[channel] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.send(ev)
	}
	return nil
}

// SetAvailable toggles the hub's availability. Going unavailable closes
// every open stream, as a dropped broker connection would.
func (b *MemoryBroker) SetAvailable(available bool) {
	b.mu.Lock()
	b.unavailable = !available
	var open []*memoryStream
	if !available {
		seen := make(map[*memoryStream]struct{})
		for _, set := range b.subscribers {
			for s := range set {
				if _, ok := seen[s]; !ok {
					seen[s] = struct{}{}
					open = append(open, s)
				}
			}
		}
	}
	b.mu.Unlock()

	for _, s := range open {
		_ = s.Close()
	}
}

// Subscribers returns the number of streams on channel.
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[channel])
}

func (b *MemoryBroker) remove(s *memoryStream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range s.channels {
		set := b.subscribers[ch]
		delete(set, s)
		if len(set) == 0 {
			delete(b.subscribers, ch)
		}
	}
}
