package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/go_cart/marketcart/internal/cache"
	"github.com/fjod/go_cart/marketcart/internal/domain"
	"github.com/fjod/go_cart/marketcart/internal/persistence"
	"github.com/fjod/go_cart/marketcart/internal/repository"
	"github.com/fjod/go_cart/marketcart/internal/store"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrClosed = errors.New("cart service closed")

// ChangeNotifier tells other instances that a session's persisted cart
// changed.
type ChangeNotifier interface {
	PublishChange(ctx context.Context, sessionID string, cleared bool) error
}

type Options struct {
	LoadTimeout      time.Duration
	SaveTimeout      time.Duration
	BreakerFailures  uint32
	BreakerOpenDelay time.Duration
	// IdleTimeout is how long an unused session stays in memory.
	IdleTimeout  time.Duration
	ReapInterval time.Duration
	Notifier     ChangeNotifier
}

type session struct {
	store       *store.Store
	snapshotter *persistence.Snapshotter
	lastAccess  time.Time
}

// CartService owns one live cart store per session. Stores are loaded
// lazily from the cache, then the repository, and persisted back through a
// snapshotter on every change. Sessions idle for longer than IdleTimeout
// are flushed and dropped.
type CartService struct {
	repo    repository.CartRepository
	cache   cache.CartCache
	sfg     singleflight.Group // concurrent first opens share one load
	breaker *gobreaker.CircuitBreaker[struct{}]
	opts    Options
	log     *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	evicting map[string]chan struct{}
	closed   bool

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewCartService(repo repository.CartRepository, cache cache.CartCache, log *zap.Logger, opts Options) *CartService {
	if opts.LoadTimeout == 0 {
		opts.LoadTimeout = 3 * time.Second
	}
	if opts.SaveTimeout == 0 {
		opts.SaveTimeout = 5 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerOpenDelay == 0 {
		opts.BreakerOpenDelay = 30 * time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	if opts.ReapInterval == 0 {
		opts.ReapInterval = min(time.Minute, opts.IdleTimeout/2)
	}

	s := &CartService{
		repo:     repo,
		cache:    cache,
		breaker:  persistence.NewBreaker("cart-repository", opts.BreakerFailures, opts.BreakerOpenDelay, log),
		opts:     opts,
		log:      log,
		now:      time.Now,
		sessions: make(map[string]*session),
		evicting: make(map[string]chan struct{}),
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.reap()
	return s
}

// Open returns the live store for sessionID, loading it on first use. A
// missing, unreadable or corrupt snapshot yields an empty cart.
func (s *CartService) Open(ctx context.Context, sessionID string) (*store.Store, error) {
	if st, ok, err := s.lookup(sessionID); ok || err != nil {
		return st, err
	}

	v, err, _ := s.sfg.Do(sessionID, func() (interface{}, error) {
		if st, ok, err := s.lookup(sessionID); ok || err != nil {
			return st, err
		}
		// an evicted copy may still be flushing its last snapshot
		s.waitEvicted(sessionID)

		items := s.load(ctx, sessionID)
		st := store.New(store.WithItems(items))

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return nil, ErrClosed
		}
		s.sessions[sessionID] = s.attach(sessionID, st)
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Store), nil
}

// Clear empties the session's cart, loading it first so every attached
// listener sees the change.
func (s *CartService) Clear(ctx context.Context, sessionID string) error {
	st, err := s.Open(ctx, sessionID)
	if err != nil {
		return err
	}
	st.ClearCart()
	return nil
}

// Refresh reloads a live session after another instance persisted a change
// to it. Sessions not held by this instance are left alone.
func (s *CartService) Refresh(ctx context.Context, sessionID string, cleared bool) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	if cleared {
		sess.store.Restore(nil)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.LoadTimeout)
	defer cancel()
	items, err := s.repo.Load(ctx, sessionID)
	if err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		// keep the local copy rather than wiping it on a read error
		s.log.Warn("cart refresh failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	sess.store.Restore(items)
}

// Close stops the reaper, then flushes and detaches every session.
func (s *CartService) Close() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()

	s.mu.Lock()
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.snapshotter.Close()
	}
}

func (s *CartService) lookup(sessionID string) (*store.Store, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	if sess, ok := s.sessions[sessionID]; ok {
		sess.lastAccess = s.now()
		return sess.store, true, nil
	}
	return nil, false, nil
}

func (s *CartService) reap() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.evictIdle(s.now()); n > 0 {
				s.log.Debug("idle carts evicted", zap.Int("sessions", n))
			}
		case <-s.done:
			return
		}
	}
}

// evictIdle drops sessions unused since before now-IdleTimeout. A session
// with listeners besides its snapshotter, such as a WebSocket feed, stays.
func (s *CartService) evictIdle(now time.Time) int {
	type victim struct {
		id   string
		sess *session
		done chan struct{}
	}

	s.mu.Lock()
	var victims []victim
	for id, sess := range s.sessions {
		if now.Sub(sess.lastAccess) < s.opts.IdleTimeout || sess.store.Subscribers() > 1 {
			continue
		}
		done := make(chan struct{})
		delete(s.sessions, id)
		s.evicting[id] = done
		victims = append(victims, victim{id: id, sess: sess, done: done})
	}
	s.mu.Unlock()

	for _, v := range victims {
		v.sess.snapshotter.Close()

		s.mu.Lock()
		delete(s.evicting, v.id)
		s.mu.Unlock()
		close(v.done)
	}
	return len(victims)
}

func (s *CartService) waitEvicted(sessionID string) {
	s.mu.Lock()
	done := s.evicting[sessionID]
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// load runs detached from the caller's cancellation: the result is shared
// with every concurrent opener of the session.
func (s *CartService) load(ctx context.Context, sessionID string) []domain.LineItem {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.LoadTimeout)
	defer cancel()
	log := s.log.With(zap.String("session_id", sessionID))

	items, err := s.cache.Get(ctx, sessionID)
	if err == nil {
		return items
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		log.Warn("cache get error", zap.Error(err))
	}

	items, err = s.repo.Load(ctx, sessionID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil
	}
	if err != nil {
		log.Warn("cart snapshot unreadable, starting empty", zap.Error(err))
		return nil
	}

	// set before the store exists so no save can invalidate first
	if err := s.cache.Set(ctx, sessionID, items); err != nil {
		log.Warn("cache set error", zap.Error(err))
	}
	return items
}

func (s *CartService) attach(sessionID string, st *store.Store) *session {
	return &session{
		store: st,
		snapshotter: persistence.Attach(sessionID, st, s.saver(sessionID), s.log,
			persistence.WithBreaker(s.breaker),
			persistence.WithSaveTimeout(s.opts.SaveTimeout)),
		lastAccess: s.now(),
	}
}

// saver writes to the repository, drops the cached copy and then announces
// the change. An empty cart deletes its document instead of storing it.
func (s *CartService) saver(sessionID string) persistence.SaveFunc {
	return func(ctx context.Context, items []domain.LineItem) error {
		cleared := len(items) == 0
		if cleared {
			if err := s.repo.Delete(ctx, sessionID); err != nil && !errors.Is(err, repository.ErrCartNotFound) {
				return err
			}
		} else if err := s.repo.Save(ctx, sessionID, items); err != nil {
			return err
		}

		if err := s.cache.Delete(ctx, sessionID); err != nil {
			s.log.Warn("cache invalidate error", zap.String("session_id", sessionID), zap.Error(err))
		}
		if s.opts.Notifier != nil {
			if err := s.opts.Notifier.PublishChange(ctx, sessionID, cleared); err != nil {
				s.log.Warn("cart change not announced", zap.String("session_id", sessionID), zap.Error(err))
			}
		}
		return nil
	}
}

func (s *CartService) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
