package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	MessageUpdated = "updated"
	MessageCleared = "cleared"
)

const (
	channelPrefix  = "cart:"
	channelSuffix  = ":events"
	channelPattern = channelPrefix + "*" + channelSuffix
)

// Message announces that a session's cart was persisted by Origin.
type Message struct {
	Origin    string `json:"origin"`
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
}

// RedisNotifier tells other instances serving the same session that its
// persisted cart changed, and relays their announcements to this one.
type RedisNotifier struct {
	client  *redis.Client
	origin  string
	timeout time.Duration
	log     *zap.Logger
}

func NewRedisNotifier(client *redis.Client, log *zap.Logger) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		origin:  uuid.NewString(),
		timeout: time.Second,
		log:     log,
	}
}

// Origin identifies this instance in published messages.
func (n *RedisNotifier) Origin() string {
	return n.origin
}

// PublishChange announces a persisted change. Call it only after the new
// snapshot is readable from storage.
func (n *RedisNotifier) PublishChange(ctx context.Context, sessionID string, cleared bool) error {
	msg := Message{Origin: n.origin, SessionID: sessionID, Kind: MessageUpdated}
	if cleared {
		msg.Kind = MessageCleared
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal cart change failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.client.Publish(ctx, Channel(sessionID), payload).Err(); err != nil {
		return fmt.Errorf("publish cart change failed: %w", err)
	}
	return nil
}

// Run delivers changes announced by other instances to handle until ctx is
// done. Messages from this instance are skipped.
func (n *RedisNotifier) Run(ctx context.Context, handle func(context.Context, Message)) error {
	sub := n.client.PSubscribe(ctx, channelPattern)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to cart changes failed: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := parseMessage(m.Channel, m.Payload)
			if err != nil {
				n.log.Warn("skipping cart change", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			if msg.Origin == n.origin {
				continue
			}
			handle(ctx, msg)
		}
	}
}

func parseMessage(channel, payload string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return Message{}, fmt.Errorf("error parsing message: %w", err)
	}
	if msg.SessionID == "" {
		msg.SessionID = strings.TrimSuffix(strings.TrimPrefix(channel, channelPrefix), channelSuffix)
	}
	if msg.Kind != MessageUpdated && msg.Kind != MessageCleared {
		return Message{}, fmt.Errorf("unknown kind %q", msg.Kind)
	}
	return msg, nil
}

func Channel(sessionID string) string {
	return channelPrefix + sessionID + channelSuffix
}
