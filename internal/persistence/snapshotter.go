package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/marketcart/internal/domain"
	"github.com/fjod/go_cart/marketcart/internal/store"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const defaultSaveTimeout = 5 * time.Second

// SaveFunc writes the full cart snapshot of one session.
type SaveFunc func(ctx context.Context, items []domain.LineItem) error

// NewBreaker returns the circuit breaker shared by all snapshotters writing
// to one backend. It opens after `failures` consecutive failed saves and
// probes again after `open`.
func NewBreaker(name string, failures uint32, open time.Duration, log *zap.Logger) *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    name,
		Timeout: open,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("persistence breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// Snapshotter persists a store on every change. Events only record the
// latest snapshot; a background goroutine writes it, so a burst of
// mutations costs one write. Save errors are logged and dropped: the store
// stays the source of truth for the session.
type Snapshotter struct {
	sessionID string
	save      SaveFunc
	breaker   *gobreaker.CircuitBreaker[struct{}]
	timeout   time.Duration
	log       *zap.Logger

	mu      sync.Mutex
	pending []domain.LineItem
	dirty   bool
	lastSeq uint64

	wake        chan struct{}
	done        chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
	unsubscribe func()
}

type Option func(*Snapshotter)

func WithBreaker(cb *gobreaker.CircuitBreaker[struct{}]) Option {
	return func(s *Snapshotter) { s.breaker = cb }
}

func WithSaveTimeout(d time.Duration) Option {
	return func(s *Snapshotter) { s.timeout = d }
}

// Attach subscribes a Snapshotter to st and starts its writer goroutine.
func Attach(sessionID string, st *store.Store, save SaveFunc, log *zap.Logger, opts ...Option) *Snapshotter {
	s := &Snapshotter{
		sessionID: sessionID,
		save:      save,
		timeout:   defaultSaveTimeout,
		log:       log.With(zap.String("session_id", sessionID)),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.unsubscribe = st.Subscribe(s.handle)

	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Snapshotter) handle(ev store.Event) {
	s.mu.Lock()
	if ev.Seq <= s.lastSeq {
		s.mu.Unlock()
		return
	}
	s.lastSeq = ev.Seq
	if ev.Kind == store.EventRestored {
		// the restored items are what storage already holds
		s.pending = nil
		s.dirty = false
		s.mu.Unlock()
		return
	}
	s.pending = ev.Items
	s.dirty = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Snapshotter) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.wake:
			s.flush()
		case <-s.done:
			s.flush()
			return
		}
	}
}

func (s *Snapshotter) flush() {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	items := s.pending
	s.pending = nil
	s.dirty = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var err error
	if s.breaker != nil {
		_, err = s.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, s.save(ctx, items)
		})
	} else {
		err = s.save(ctx, items)
	}
	if err != nil {
		s.log.Warn("cart snapshot not persisted", zap.Int("items", len(items)), zap.Error(err))
		return
	}
	s.log.Debug("cart snapshot persisted", zap.Int("items", len(items)))
}

// Close detaches from the store, writes any pending snapshot and stops the
// writer goroutine.
func (s *Snapshotter) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		close(s.done)
		s.wg.Wait()
	})
}
