package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/fjod/go_cart/marketcart/internal/store"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	feedWriteWait    = 10 * time.Second
	feedPingInterval = 30 * time.Second
	feedReadLimit    = 512
)

const (
	FeedSnapshot = "cart_snapshot"
	FeedUpdated  = "cart_updated"
)

type FeedMessage struct {
	Type  string          `json:"type"`
	Event store.EventKind `json:"event,omitempty"`
	Cart  CartResponseDTO `json:"cart"`
}

// CartFeed pushes the cart to a WebSocket client whenever it changes.
// Slow clients only ever receive the newest state.
type CartFeed struct {
	carts    CartOpener
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewCartFeed(carts CartOpener, log *zap.Logger) *CartFeed {
	return &CartFeed{
		carts: carts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// storefront and mobile app are served from other origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// latestEvent holds the newest undelivered event.
type latestEvent struct {
	mu      sync.Mutex
	ev      store.Event
	pending bool
	signal  chan struct{}
}

func (l *latestEvent) put(ev store.Event) {
	l.mu.Lock()
	if l.pending && l.ev.Seq >= ev.Seq {
		l.mu.Unlock()
		return
	}
	l.ev = ev
	l.pending = true
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *latestEvent) take() (store.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev, ok := l.ev, l.pending
	l.pending = false
	return ev, ok
}

// GET /api/v1/cart/ws
func (f *CartFeed) Serve(w http.ResponseWriter, r *http.Request) {
	sessionID := getSessionID(r.Context())
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing cart session")
		return
	}
	st, err := f.carts.Open(r.Context(), sessionID)
	if err != nil {
		handleCartError(w, err)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		f.log.Warn("websocket upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	defer conn.Close()

	latest := &latestEvent{signal: make(chan struct{}, 1)}
	unsubscribe := st.Subscribe(latest.put)
	defer unsubscribe()

	// subscribe before reading the snapshot so no change falls in between
	var sent uint64
	if err := f.write(conn, FeedMessage{Type: FeedSnapshot, Cart: cartResponse(sessionID, st.Items())}); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(feedReadLimit)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(feedPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-latest.signal:
			ev, ok := latest.take()
			if !ok || ev.Seq <= sent {
				continue
			}
			sent = ev.Seq
			msg := FeedMessage{Type: FeedUpdated, Event: ev.Kind, Cart: cartResponse(sessionID, ev.Items)}
			if err := f.write(conn, msg); err != nil {
				f.log.Debug("websocket write failed", zap.String("session_id", sessionID), zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (f *CartFeed) write(conn *websocket.Conn, msg FeedMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(feedWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}
