package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker fans events out through Redis pub/sub so every server instance
// sees every commit.
type RedisBroker struct {
	rdb *redis.Client
}

// NewRedisBroker creates a broker over rdb.
func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

// Publish sends ev to channel as JSON.
func (b *RedisBroker) Publish(ctx context.Context, channel string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a Redis subscription and waits for the server to confirm it,
// so no event published after Subscribe returns is missed.
// The stream ends when the connection is lost, so the watcher resubscribes
// and refetches whatever was published in the gap.
func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) (Stream, error) {
	ps := b.rdb.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	s := &redisStream{ps: ps, ch: make(chan Event, streamBuffer), quit: make(chan struct{})}
	go s.pump(ctx)
	return s, nil
}

// healthCheckInterval is how long the stream waits for a message before
// pinging the server to confirm the connection is still alive.
const healthCheckInterval = 15 * time.Second

type redisStream struct {
	ps   *redis.PubSub
	ch   chan Event
	quit chan struct{}
	once sync.Once
}

func (s *redisStream) C() <-chan Event { return s.ch }

func (s *redisStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.quit)
		err = s.ps.Close()
	})
	return err
}

func (s *redisStream) closed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *redisStream) pump(ctx context.Context) {
	defer close(s.ch)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC in redis stream: %v\n%s", r, debug.Stack())
		}
	}()
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		msg, err := s.ps.ReceiveTimeout(ctx, healthCheckInterval)
		if s.closed() || ctx.Err() != nil {
			return
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if err := s.ps.Ping(ctx); err == nil {
					continue
				}
			}
			// Connection lost.
			_ = s.Close()
			return
		}

		m, ok := msg.(*redis.Message)
		if !ok {
			// *redis.Subscription confirmations and *redis.Pong replies.
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
			continue
		}
		ev.Channel = m.Channel
		select {
		case s.ch <- ev:
		default:
		}
	}
}
