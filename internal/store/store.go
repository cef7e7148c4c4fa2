package store

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/fjod/go_cart/marketcart/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrInvalidItem     = errors.New("product id and seller id are required, price must not be negative and variant must be valid UTF-8")
)

type EventKind string

const (
	EventItemAdded       EventKind = "item_added"
	EventItemMerged      EventKind = "item_merged"
	EventQuantityUpdated EventKind = "quantity_updated"
	EventItemRemoved     EventKind = "item_removed"
	EventCleared         EventKind = "cleared"
	// EventRestored replaces the whole cart with a persisted copy.
	EventRestored EventKind = "restored"
)

// Event is emitted after every state change. Items is a copy of the whole
// cart after the change, in insertion order. Seq increases with every
// mutation; concurrent mutators may deliver out of order, so listeners that
// keep state should ignore an event older than the last one they saw.
type Event struct {
	Seq    uint64
	Kind   EventKind
	ItemID string
	Items  []domain.LineItem
}

// Listener receives change events. It is called synchronously after the
// mutation, outside the store lock, so it may read the store again.
type Listener func(Event)

// Store is the in-memory cart aggregate for one session. All line item
// mutations go through its methods.
type Store struct {
	mu    sync.RWMutex
	items []*domain.LineItem
	seq   uint64

	listenersMu sync.RWMutex
	listeners   map[uint64]Listener
	nextID      uint64

	now   func() time.Time
	newID func() string
}

type Option func(*Store)

// WithItems seeds the store from a persisted snapshot. See Restore for how
// entries are cleaned up.
func WithItems(items []domain.LineItem) Option {
	return func(s *Store) { s.items = sanitize(items) }
}

// WithClock overrides time.Now for AddedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides line item id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

func New(opts ...Option) *Store {
	s := &Store{
		listeners: make(map[uint64]Listener),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers l for change events and returns a function that
// removes it. The returned function is safe to call more than once.
func (s *Store) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

// AddItem merges into the line with the same product and variant, or
// creates a new line. A merge only increments quantity; name, image and
// price on the existing line stay as they were.
func (s *Store) AddItem(in domain.AddItemInput) (domain.LineItem, error) {
	qty := 1
	if in.Quantity != nil {
		qty = *in.Quantity
	}
	if qty < 1 {
		return domain.LineItem{}, ErrInvalidQuantity
	}
	if err := validateLine(in.ProductID, in.SellerID, in.Price, in.Variant); err != nil {
		return domain.LineItem{}, err
	}

	s.mu.Lock()
	for _, item := range s.items {
		if item.SameLine(in.ProductID, in.Variant) {
			if item.Quantity > math.MaxInt-qty {
				s.mu.Unlock()
				return domain.LineItem{}, ErrInvalidQuantity
			}
			item.Quantity += qty
			out := item.Clone()
			s.unlockAndEmit(s.eventLocked(EventItemMerged, item.ID))
			return out, nil
		}
	}

	item := &domain.LineItem{
		ID:         s.newID(),
		ProductID:  in.ProductID,
		Name:       in.Name,
		Image:      in.Image,
		Price:      in.Price,
		Quantity:   qty,
		Variant:    in.Variant.Clone(),
		SellerID:   in.SellerID,
		SellerName: in.SellerName,
		AddedAt:    s.now(),
	}
	if in.OriginalPrice != nil {
		p := *in.OriginalPrice
		item.OriginalPrice = &p
	}
	s.items = append(s.items, item)
	out := item.Clone()
	s.unlockAndEmit(s.eventLocked(EventItemAdded, item.ID))
	return out, nil
}

// UpdateQuantity replaces the quantity of line id. A quantity of zero or
// less removes the line. Unknown ids are ignored.
func (s *Store) UpdateQuantity(id string, quantity int) {
	if quantity <= 0 {
		s.RemoveItem(id)
		return
	}

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.items[idx].Quantity = quantity
	s.unlockAndEmit(s.eventLocked(EventQuantityUpdated, id))
}

// RemoveItem deletes line id if present.
func (s *Store) RemoveItem(id string) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.unlockAndEmit(s.eventLocked(EventItemRemoved, id))
}

// ClearCart empties the cart. It always emits EventCleared, even when the
// cart was already empty, so persisted copies converge.
func (s *Store) ClearCart() {
	s.mu.Lock()
	s.items = nil
	s.unlockAndEmit(s.eventLocked(EventCleared, ""))
}

// Restore replaces the cart with a persisted copy, e.g. one written by
// another instance. It emits EventRestored.
func (s *Store) Restore(items []domain.LineItem) {
	clean := sanitize(items)

	s.mu.Lock()
	s.items = clean
	s.unlockAndEmit(s.eventLocked(EventRestored, ""))
}

// Subscribers reports how many listeners are registered.
func (s *Store) Subscribers() int {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	return len(s.listeners)
}

// TotalItems counts units, not lines.
func (s *Store) TotalItems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, item := range s.items {
		total += item.Quantity
	}
	return total
}

// TotalPrice sums price*quantity over all lines.
func (s *Store) TotalPrice() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, item := range s.items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// ItemsBySeller groups lines by seller id, keeping insertion order inside
// each group. Sellers without lines are not present.
func (s *Store) ItemsBySeller() map[string][]domain.LineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make(map[string][]domain.LineItem)
	for _, item := range s.items {
		groups[item.SellerID] = append(groups[item.SellerID], item.Clone())
	}
	return groups
}

// Items returns a copy of all lines in insertion order.
func (s *Store) Items() []domain.LineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Item returns a copy of line id.
func (s *Store) Item(id string) (domain.LineItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.LineItem{}, false
	}
	return s.items[idx].Clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func validateLine(productID, sellerID string, price decimal.Decimal, variant domain.Variant) error {
	if productID == "" || sellerID == "" || price.IsNegative() || !variant.Valid() {
		return ErrInvalidItem
	}
	return nil
}

// sanitize drops persisted entries AddItem could never have produced and
// folds lines for the same product and variant into the first one.
func sanitize(items []domain.LineItem) []*domain.LineItem {
	var out []*domain.LineItem
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.ID == "" || item.Quantity < 1 {
			continue
		}
		if validateLine(item.ProductID, item.SellerID, item.Price, item.Variant) != nil {
			continue
		}
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}

		merged := false
		for _, line := range out {
			if line.SameLine(item.ProductID, item.Variant) {
				if line.Quantity <= math.MaxInt-item.Quantity {
					line.Quantity += item.Quantity
				}
				merged = true
				break
			}
		}
		if merged {
			continue
		}
		c := item.Clone()
		out = append(out, &c)
	}
	return out
}

func (s *Store) indexLocked(id string) int {
	for i, item := range s.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() []domain.LineItem {
	out := make([]domain.LineItem, len(s.items))
	for i, item := range s.items {
		out[i] = item.Clone()
	}
	return out
}

func (s *Store) eventLocked(kind EventKind, id string) Event {
	s.seq++
	return Event{Seq: s.seq, Kind: kind, ItemID: id, Items: s.snapshotLocked()}
}

func (s *Store) unlockAndEmit(ev Event) {
	s.mu.Unlock()

	s.listenersMu.RLock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.listenersMu.RUnlock()

	for _, l := range ls {
		l(ev)
	}
}
