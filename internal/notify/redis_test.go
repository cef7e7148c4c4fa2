package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

type received struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *received) handle(_ context.Context, m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *received) all() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// runNotifier starts n.Run and waits until its subscription is live.
func runNotifier(t *testing.T, mr *miniredis.Miniredis, n *RedisNotifier, r *received) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, n.Run(ctx, r.handle))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		return mr.PubSubNumPat() > 0
	}, time.Second, 10*time.Millisecond)
}

func TestRedisNotifier_DeliversChangesFromOtherInstances(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()

	local := NewRedisNotifier(client, zap.NewNop())
	remote := NewRedisNotifier(client, zap.NewNop())
	require.NotEqual(t, local.Origin(), remote.Origin())

	got := &received{}
	runNotifier(t, mr, local, got)

	require.NoError(t, local.PublishChange(ctx, "session-1", false))
	require.NoError(t, remote.PublishChange(ctx, "session-1", false))
	require.NoError(t, remote.PublishChange(ctx, "session:2", true))

	require.Eventually(t, func() bool {
		return len(got.all()) == 2
	}, time.Second, 10*time.Millisecond)

	msgs := got.all()
	assert.Equal(t, Message{Origin: remote.Origin(), SessionID: "session-1", Kind: MessageUpdated}, msgs[0])
	assert.Equal(t, Message{Origin: remote.Origin(), SessionID: "session:2", Kind: MessageCleared}, msgs[1])
}

func TestRedisNotifier_SkipsMalformedMessages(t *testing.T) {
	client, mr := setupRedis(t)
	ctx := context.Background()

	got := &received{}
	runNotifier(t, mr, NewRedisNotifier(client, zap.NewNop()), got)

	mr.Publish(Channel("s1"), "not json")
	mr.Publish(Channel("s1"), `{"origin":"other","kind":"exploded"}`)
	require.NoError(t, NewRedisNotifier(client, zap.NewNop()).PublishChange(ctx, "s1", true))

	require.Eventually(t, func() bool {
		return len(got.all()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, MessageCleared, got.all()[0].Kind)
}

func TestRedisNotifier_PublishFailsWhenRedisDown(t *testing.T) {
	client, mr := setupRedis(t)
	mr.Close()

	err := NewRedisNotifier(client, zap.NewNop()).PublishChange(context.Background(), "session-1", false)
	assert.ErrorContains(t, err, "publish cart change failed")
}

func TestParseMessage_SessionFromChannel(t *testing.T) {
	msg, err := parseMessage(Channel("a:b"), `{"origin":"o","kind":"updated"}`)
	require.NoError(t, err)
	assert.Equal(t, "a:b", msg.SessionID)
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "cart:abc:events", Channel("abc"))
}
