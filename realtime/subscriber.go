// Package realtime listens for backend change notifications published on Redis.
package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handler receives the name of each event addressed to this device.
type Handler func(ctx context.Context, name string) error

// Event is a decoded notification. Payloads are either the bare event name or a JSON
// object such as {"event":"attendance-update","userId":"u1"}.
type Event struct {
	Name   string `json:"event"`
	UserID string `json:"userId,omitempty"`
}

// ParsePayload decodes a pub/sub payload. It reports false for empty payloads.
func ParsePayload(payload string) (Event, bool) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Event{}, false
	}
	if strings.HasPrefix(payload, "{") {
		var ev struct {
			Event  string `json:"event"`
			Type   string `json:"type"`
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return Event{}, false
		}
		name := ev.Event
		if name == "" {
			name = ev.Type
		}
		if name == "" {
			return Event{}, false
		}
		return Event{Name: name, UserID: ev.UserID}, true
	}
	return Event{Name: payload}, true
}

// Subscriber forwards events from one Redis channel to a handler.
type Subscriber struct {
	client  *redis.Client
	channel string
	handler Handler
	userID  func() string
	logger  *zap.Logger
}

// NewSubscriber builds a subscriber. userID returns the signed in user; events
// addressed to somebody else are dropped.
func NewSubscriber(client *redis.Client, channel string, handler Handler, userID func() string, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		client:  client,
		channel: channel,
		handler: handler,
		userID:  userID,
		logger:  logger.With(zap.String("component", "realtime"), zap.String("channel", channel)),
	}
}

// Run subscribes and dispatches until ctx is canceled. The connection is re-established
// with backoff when Redis goes away.
func (s *Subscriber) Run(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		err := s.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("realtime subscription lost", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *Subscriber) listen(ctx context.Context) error {
	ps := s.client.Subscribe(ctx, s.channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	s.logger.Info("realtime subscription active")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return redis.ErrClosed
			}
			s.Dispatch(ctx, msg.Payload)
		}
	}
}

// Dispatch handles a single raw payload.
func (s *Subscriber) Dispatch(ctx context.Context, payload string) {
	ev, ok := ParsePayload(payload)
	if !ok {
		s.logger.Debug("ignoring malformed realtime payload", zap.String("payload", payload))
		return
	}
	if ev.UserID != "" && s.userID != nil && ev.UserID != s.userID() {
		return
	}
	if err := s.handler(ctx, ev.Name); err != nil {
		s.logger.Debug("realtime event not handled", zap.String("event", ev.Name), zap.Error(err))
	}
}
