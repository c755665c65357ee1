// Package notifications carries change events between writers and live
// subscriptions, over Redis pub/sub or an in-process hub.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"campusfeed/internal/models"
	"campusfeed/internal/observability"
)

// ErrBrokerUnavailable is returned by Subscribe while the broker cannot accept subscriptions.
var ErrBrokerUnavailable = errors.New("notifications: broker unavailable")

// Event type names.
const (
	EventReaction = "reaction"
	EventComment  = "comment"
	EventPost     = "post"
)

// FeedChannel carries every change that affects a feed entry.
const FeedChannel = "feed:posts"

// Event announces a committed change. Subscribers refetch on receipt; the
// event itself carries no state beyond the subject revision.
type Event struct {
	Type     string `json:"type"`
	Subject  string `json:"subject"`
	Revision int64  `json:"revision"`
	Channel  string `json:"-"`
}

// Stream is one open subscription to a set of channels. C is closed when the
// stream ends, either through Close or a broker failure.
type Stream interface {
	C() <-chan Event
	Close() error
}

// Broker publishes events and opens streams.
type Broker interface {
	Publish(ctx context.Context, channel string, ev Event) error
	Subscribe(ctx context.Context, channels ...string) (Stream, error)
}

func ReactionsChannel(s models.Subject) string {
	return fmt.Sprintf("reactions:%s:%d", s.Type, s.ID)
}

func ThreadChannel(postID uint) string {
	return fmt.Sprintf("comments:post:%d", postID)
}

// PublishAll sends ev on each channel. It runs after commit, so failures are
// logged and swallowed: the write already happened and subscribers recover
// on their next refetch.
func PublishAll(ctx context.Context, b Broker, ev Event, channels ...string) {
	if b == nil {
		return
	}
	for _, ch := range channels {
		if err := b.Publish(ctx, ch, ev); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "publish failed",
				slog.String("channel", ch),
				slog.String("subject", ev.Subject),
				slog.String("error", err.Error()),
			)
		}
	}
}
