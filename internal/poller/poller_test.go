package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReader struct {
	msgs   chan kafka.Message
	err    error
	reads  atomic.Int32
	closed bool
}

func newFakeReader(values ...string) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(values))}
	for i, v := range values {
		r.msgs <- kafka.Message{Offset: int64(i), Value: []byte(v)}
	}
	return r
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	f.reads.Add(1)
	if f.err != nil {
		return kafka.Message{}, f.err
	}
	select {
	case m := <-f.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

type recordingClearer struct {
	mu      sync.Mutex
	cleared []string
	err     error
}

func (r *recordingClearer) Clear(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, sessionID)
	return r.err
}

func (r *recordingClearer) sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cleared...)
}

func TestPoller_ClearsCompletedCheckouts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := newFakeReader(
		`{"checkout_id":"c1","session_id":"session-1","total_amount":"10"}`,
		`not json`,
		`{"checkout_id":"c2","user_id":"123"}`,
		`{"checkout_id":"c3"}`,
		`{"checkout_id":"c4","session_id":"session-4","user_id":"ignored"}`,
	)
	clearer := &recordingClearer{}
	p := &Poller{carts: clearer, reader: reader, log: zap.NewNop()}

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(clearer.sessions()) == 3
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"session-1", "123", "session-4"}, clearer.sessions())

	cancel()
	<-done
}

func TestPoller_ClearErrorKeepsRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := newFakeReader(`{"session_id":"a"}`, `{"session_id":"b"}`)
	clearer := &recordingClearer{err: errors.New("closed")}
	p := &Poller{carts: clearer, reader: reader, log: zap.NewNop()}

	go p.Run(ctx)

	require.Eventually(t, func() bool {
		return len(clearer.sessions()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestPoller_ReadErrorsBackOff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	reader := newFakeReader()
	reader.err = errors.New("broker unreachable")
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 20 * time.Millisecond
	retry.MaxInterval = 20 * time.Millisecond
	retry.RandomizationFactor = 0
	p := &Poller{carts: &recordingClearer{}, reader: reader, log: zap.NewNop(), retry: retry}

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	reads := reader.reads.Load()
	assert.GreaterOrEqual(t, reads, int32(2))
	assert.LessOrEqual(t, reads, int32(15))
}

func TestPoller_CancelInterruptsBackOff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	reader := newFakeReader()
	reader.err = errors.New("broker unreachable")
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Hour
	retry.MaxInterval = time.Hour
	p := &Poller{carts: &recordingClearer{}, reader: reader, log: zap.NewNop(), retry: retry}

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return reader.reads.Load() == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, int32(1), reader.reads.Load())
}

func TestPoller_Close(t *testing.T) {
	reader := newFakeReader()
	p := &Poller{carts: &recordingClearer{}, reader: reader, log: zap.NewNop()}

	p.Close()
	assert.True(t, reader.closed)
}

func TestParseSessionID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{"session id", `{"session_id":"s1"}`, "s1", false},
		{"user id fallback", `{"user_id":"u1"}`, "u1", false},
		{"session wins", `{"session_id":"s1","user_id":"u1"}`, "s1", false},
		{"missing", `{"checkout_id":"c"}`, "", true},
		{"malformed", `{`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSessionID([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
