package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"campusfeed/internal/models"
	"campusfeed/internal/notifications"
	"campusfeed/internal/observability"
	"campusfeed/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// Live topics a client can watch over /ws/live.
const (
	topicFeed             = "feed"
	topicThread           = "thread"
	topicPostReactions    = "post_reactions"
	topicCommentReactions = "comment_reactions"
)

// Server frame types.
const (
	frameSnapshot  = "snapshot"
	frameStatus    = "status"
	frameUnwatched = "unwatched"
	frameEnded     = "ended"
	frameError     = "error"
)

// liveRequest is a client frame, e.g. {"action":"watch","topic":"thread","id":7}.
// The feed fields only apply to the feed topic.
type liveRequest struct {
	Action   string `json:"action" validate:"required,oneof=watch unwatch"`
	Topic    string `json:"topic" validate:"required,oneof=feed thread post_reactions comment_reactions"`
	ID       uint   `json:"id"`
	Audience string `json:"audience"`
	AuthorID uint   `json:"author_id"`
	PostType string `json:"post_type"`
	Limit    int    `json:"limit"`
}

func (r liveRequest) key() string { return fmt.Sprintf("%s:%d", r.Topic, r.ID) }

type liveFrame struct {
	Type     string `json:"type"`
	Topic    string `json:"topic,omitempty"`
	ID       uint   `json:"id,omitempty"`
	Revision int64  `json:"revision"`
	Data     any    `json:"data,omitempty"`
	Stale    *bool  `json:"stale,omitempty"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
}

// frameWriter is the write half of a websocket connection.
type frameWriter interface {
	WriteJSON(v interface{}) error
}

// liveSession owns the subscriptions of one websocket connection.
// Frames from different subscription workers are serialized on writeMu.
type liveSession struct {
	id     string
	server *Server
	userID uint
	ctx    context.Context
	cancel context.CancelFunc
	out    frameWriter

	writeMu sync.Mutex
	mu      sync.Mutex
	subs    map[string]*notifications.Subscription
	closed  bool
	wg      sync.WaitGroup
}

func (s *Server) newLiveSession(parent context.Context, userID uint, out frameWriter) *liveSession {
	ctx, cancel := context.WithCancel(parent)
	return &liveSession{
		id:     uuid.NewString(),
		server: s,
		userID: userID,
		ctx:    ctx,
		cancel: cancel,
		out:    out,
		subs:   make(map[string]*notifications.Subscription),
	}
}

// LiveHandler upgrades GET /ws/live and serves watch/unwatch frames until
// the client disconnects.
func (s *Server) LiveHandler() fiber.Handler {
	upgrade := websocket.New(func(conn *websocket.Conn) {
		observability.LiveConnections.Inc()
		defer observability.LiveConnections.Dec()

		userID, _ := conn.Locals("userID").(uint)
		session := s.newLiveSession(s.shutdownCtx, userID, conn)
		defer session.close()

		s.liveLog.Lifecycle(session.ctx, "connect", "live", map[string]any{"user_id": userID, "session_id": session.id})
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			session.handle(msg)
		}
		s.liveLog.Lifecycle(session.ctx, "disconnect", "live", map[string]any{"user_id": userID, "session_id": session.id})
	})

	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return upgrade(c)
	}
}

func (ls *liveSession) send(f liveFrame) {
	ls.writeMu.Lock()
	defer ls.writeMu.Unlock()
	if err := ls.out.WriteJSON(f); err != nil {
		ls.server.liveLog.Error(ls.ctx, f.Topic, err)
	}
}

func (ls *liveSession) sendError(req liveRequest, err error) {
	ls.send(liveFrame{
		Type:  frameError,
		Topic: req.Topic,
		ID:    req.ID,
		Error: err.Error(),
		Code:  models.ErrorCode(err),
	})
}

func (ls *liveSession) handle(raw []byte) {
	var req liveRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		ls.sendError(req, models.NewValidationError("Invalid message"))
		return
	}
	if err := ls.server.validate.Struct(req); err != nil {
		ls.sendError(req, models.NewValidationError(validationMessage(err)))
		return
	}
	if req.Topic != topicFeed && req.ID == 0 {
		ls.sendError(req, models.NewValidationError("id is required"))
		return
	}

	switch req.Action {
	case "watch":
		ls.watch(req)
	case "unwatch":
		ls.unwatch(req.key())
		ls.send(liveFrame{Type: frameUnwatched, Topic: req.Topic, ID: req.ID})
	}
}

// watch opens a subscription for req, replacing any existing one with the same key.
func (ls *liveSession) watch(req liveRequest) {
	key := req.key()
	ls.unwatch(key)

	staleHook := service.WithStaleHook(func(stale bool) {
		ls.send(liveFrame{Type: frameStatus, Topic: req.Topic, ID: req.ID, Stale: &stale})
	})
	sub, err := ls.subscribe(req, staleHook)
	if err != nil {
		ls.sendError(req, err)
		return
	}

	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	ls.subs[key] = sub
	ls.wg.Add(1)
	ls.mu.Unlock()

	go ls.awaitEnd(req, key, sub)
}

func (ls *liveSession) subscribe(req liveRequest, opts ...service.SubscribeOption) (*notifications.Subscription, error) {
	srv := ls.server
	snapshot := func(rev int64, data any) {
		ls.send(liveFrame{Type: frameSnapshot, Topic: req.Topic, ID: req.ID, Revision: rev, Data: data})
	}

	switch req.Topic {
	case topicFeed:
		filter := service.FeedFilter{
			Audience: models.Audience(req.Audience),
			AuthorID: req.AuthorID,
			PostType: models.PostType(req.PostType),
			Limit:    req.Limit,
		}
		return srv.feedService.SubscribeToFeed(ls.ctx, ls.userID, filter, func(snap service.FeedSnapshot) {
			snapshot(snap.Revision, snap.Data)
		}, opts...)
	case topicThread:
		return srv.commentService.SubscribeToThread(ls.ctx, ls.userID, req.ID, func(snap service.ThreadSnapshot) {
			snapshot(snap.Revision, snap.Data)
		}, opts...)
	default:
		subject := models.PostSubject(req.ID)
		if req.Topic == topicCommentReactions {
			subject = models.CommentSubject(req.ID)
		}
		if err := srv.reactions.CheckVisible(ls.ctx, ls.userID, subject); err != nil {
			return nil, err
		}
		return srv.reactions.SubscribeToSubject(ls.ctx, subject, func(snap service.ReactionSnapshot) {
			snapshot(snap.Revision, snap.Data)
		}, opts...)
	}
}

// awaitEnd forgets sub once its worker exits and tells the client when the
// watched subject went away.
func (ls *liveSession) awaitEnd(req liveRequest, key string, sub *notifications.Subscription) {
	defer ls.wg.Done()
	<-sub.Done()

	ls.mu.Lock()
	if ls.subs[key] == sub {
		delete(ls.subs, key)
	}
	closed := ls.closed
	ls.mu.Unlock()

	if err := sub.Err(); err != nil && !closed {
		ls.send(liveFrame{
			Type:  frameEnded,
			Topic: req.Topic,
			ID:    req.ID,
			Error: err.Error(),
			Code:  models.ErrorCode(err),
		})
	}
}

func (ls *liveSession) unwatch(key string) {
	ls.mu.Lock()
	sub, ok := ls.subs[key]
	delete(ls.subs, key)
	ls.mu.Unlock()
	if ok {
		sub.Unsubscribe()
	}
}

// close releases every subscription and waits for their workers.
func (ls *liveSession) close() {
	ls.mu.Lock()
	ls.closed = true
	subs := ls.subs
	ls.subs = make(map[string]*notifications.Subscription)
	ls.mu.Unlock()

	ls.cancel()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	ls.wg.Wait()
}

func (ls *liveSession) watching() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.subs)
}
