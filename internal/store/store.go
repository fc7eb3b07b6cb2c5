// Package store holds a collection's items in memory and applies user
// mutations to them synchronously.
//
// Every state change is emitted to subscribers before the mutating call
// returns, while the store lock is held. Subscribers must not call back into
// the store.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pzron/ecom-sub001/internal/domain"
)

// State is the full observable state of a collection.
type State struct {
	Kind     domain.Kind
	Items    []domain.Item
	Warnings map[string]domain.Warning
	Loading  bool
}

// MutationType names a user mutation.
type MutationType string

const (
	MutationAdd         MutationType = "add"
	MutationRemove      MutationType = "remove"
	MutationSetQuantity MutationType = "set_quantity"
)

// Mutation describes one applied user mutation. Item is the resulting item
// (zero for removals) and Previous is the item before the change, nil when
// the product was absent.
type Mutation struct {
	Kind      domain.Kind
	Type      MutationType
	ProductID string
	Item      domain.Item
	Previous  *domain.Item
}

type subscriber struct {
	id int
	fn func(State)
}

// Store is a single collection. It is safe for concurrent use.
type Store struct {
	kind   domain.Kind
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	items    []domain.Item
	index    map[string]int
	total    int
	warnings map[string]domain.Warning
	loading  bool

	nextID    int
	subs      []subscriber
	mutations []func(Mutation)
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for AddedAt and warning timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty store for kind.
func New(kind domain.Kind, opts ...Option) *Store {
	s := &Store{
		kind:     kind,
		now:      time.Now,
		logger:   slog.Default(),
		index:    make(map[string]int),
		warnings: make(map[string]domain.Warning),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind returns the collection kind.
func (s *Store) Kind() domain.Kind {
	return s.kind
}

// Subscribe registers fn for every state change and returns a function that
// removes it.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// OnMutation registers fn for user mutations. Bookkeeping calls made by the
// sync engine and wholesale replacements are not reported.
func (s *Store) OnMutation(fn func(Mutation)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutations = append(s.mutations, fn)
}

// Add inserts the product or, for carts, increases the quantity of the
// existing item and refreshes its snapshot. Adding a product already in a
// wishlist changes nothing. It returns the resulting item.
func (s *Store) Add(snap domain.Snapshot, quantity int) domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.index[snap.ProductID]; ok {
		if !s.kind.Quantified() {
			return s.items[i]
		}
		prev := s.items[i]
		item := prev
		item.Quantity += domain.NormalizeQuantity(s.kind, quantity)
		item.Snapshot = snap
		s.items[i] = item
		s.total += item.Quantity - prev.Quantity

		s.emit(&Mutation{Type: MutationAdd, ProductID: snap.ProductID, Item: item, Previous: &prev})
		return item
	}

	item := domain.NewItem(s.kind, snap, quantity, s.now())
	s.insert(item)
	s.emit(&Mutation{Type: MutationAdd, ProductID: item.ProductID, Item: item})
	return item
}

// Remove deletes the product if present and reports whether it was.
func (s *Store) Remove(productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.delete(productID)
	if !ok {
		return false
	}
	s.emit(&Mutation{Type: MutationRemove, ProductID: productID, Previous: &prev})
	return true
}

// SetQuantity sets a cart item's quantity, clamping negative values to one.
// Zero removes the item for either kind; other values are ignored for
// wishlists. The returned bool reports whether the product is present after
// the call.
func (s *Store) SetQuantity(productID string, n int) (domain.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[productID]
	if !ok {
		return domain.Item{}, false
	}

	if n == 0 {
		prev, _ := s.delete(productID)
		s.emit(&Mutation{Type: MutationRemove, ProductID: productID, Previous: &prev})
		return domain.Item{}, false
	}

	prev := s.items[i]
	if !s.kind.Quantified() {
		return prev, true
	}

	n = domain.NormalizeQuantity(s.kind, n)
	if n == prev.Quantity {
		return prev, true
	}

	item := prev
	item.Quantity = n
	s.items[i] = item
	s.total += n - prev.Quantity

	s.emit(&Mutation{Type: MutationSetQuantity, ProductID: productID, Item: item, Previous: &prev})
	return item, true
}

// Clear empties the collection. Each removed product is reported as a
// remove mutation after the single state emission.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return
	}

	removed := s.items
	s.reset(nil)
	s.notify()

	for i := range removed {
		prev := removed[i]
		s.report(Mutation{Kind: s.kind, Type: MutationRemove, ProductID: prev.ProductID, Previous: &prev})
	}
}

// IsPresent reports whether productID is in the collection.
func (s *Store) IsPresent(productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[productID]
	return ok
}

// Count returns the quantity sum for carts and the item count for wishlists.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Get returns the item for productID.
func (s *Store) Get(productID string) (domain.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[productID]
	if !ok {
		return domain.Item{}, false
	}
	return s.items[i], true
}

// Items returns a copy of the items in insertion order.
func (s *Store) Items() []domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.items)
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// ReplaceAll swaps the whole collection atomically. Later duplicates of a
// product are dropped.
func (s *Store) ReplaceAll(items []domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(items)
	s.notify()
}

// ReplaceFunc computes the new collection from a copy of the current one
// while holding the store lock, so no mutation can interleave.
func (s *Store) ReplaceFunc(fn func(current []domain.Item) []domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(fn(cloneItems(s.items)))
	s.notify()
}

// SetRecordID links productID to a server record.
func (s *Store) SetRecordID(productID, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[productID]
	if !ok || s.items[i].RecordID == recordID {
		return
	}
	s.items[i].RecordID = recordID
	s.notify()
}

// ClearRecordIDs drops every server link.
func (s *Store) ClearRecordIDs() {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for i := range s.items {
		if s.items[i].RecordID != "" {
			s.items[i].RecordID = ""
			changed = true
		}
	}
	if changed {
		s.notify()
	}
}

// SetWarning attaches w to its product. Warnings for absent products are ignored.
func (s *Store) SetWarning(w domain.Warning) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[w.ProductID]; !ok {
		return
	}
	if w.At.IsZero() {
		w.At = s.now().UTC()
	}
	s.warnings[w.ProductID] = w
	s.notify()
}

// ClearWarning removes the warning for productID.
func (s *Store) ClearWarning(productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.warnings[productID]; !ok {
		return
	}
	delete(s.warnings, productID)
	s.notify()
}

// SetLoading toggles the loading flag shown while a pull is running.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loading == loading {
		return
	}
	s.loading = loading
	s.notify()
}

func (s *Store) insert(item domain.Item) {
	s.index[item.ProductID] = len(s.items)
	s.items = append(s.items, item)
	s.total += s.weight(item)
}

func (s *Store) delete(productID string) (domain.Item, bool) {
	i, ok := s.index[productID]
	if !ok {
		return domain.Item{}, false
	}
	prev := s.items[i]

	s.items = append(s.items[:i:i], s.items[i+1:]...)
	delete(s.index, productID)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j].ProductID] = j
	}
	s.total -= s.weight(prev)
	delete(s.warnings, productID)
	return prev, true
}

func (s *Store) reset(items []domain.Item) {
	s.items = make([]domain.Item, 0, len(items))
	s.index = make(map[string]int, len(items))
	s.total = 0

	for _, item := range items {
		if _, dup := s.index[item.ProductID]; dup {
			s.logger.Warn("dropping duplicate item",
				slog.String("collection", string(s.kind)),
				slog.String("product_id", item.ProductID),
			)
			continue
		}
		item.Quantity = domain.NormalizeQuantity(s.kind, item.Quantity)
		s.insert(item)
	}

	for productID := range s.warnings {
		if _, ok := s.index[productID]; !ok {
			delete(s.warnings, productID)
		}
	}
}

func (s *Store) weight(item domain.Item) int {
	if s.kind.Quantified() {
		return item.Quantity
	}
	return 1
}

func (s *Store) snapshot() State {
	warnings := make(map[string]domain.Warning, len(s.warnings))
	for k, v := range s.warnings {
		warnings[k] = v
	}
	return State{
		Kind:     s.kind,
		Items:    cloneItems(s.items),
		Warnings: warnings,
		Loading:  s.loading,
	}
}

// emit publishes the new state and then the user mutation m.
func (s *Store) emit(m *Mutation) {
	s.notify()
	m.Kind = s.kind
	s.report(*m)
}

func (s *Store) notify() {
	if len(s.subs) == 0 {
		return
	}
	st := s.snapshot()
	for _, sub := range s.subs {
		sub.fn(st)
	}
}

func (s *Store) report(m Mutation) {
	for _, fn := range s.mutations {
		fn(m)
	}
}

func cloneItems(items []domain.Item) []domain.Item {
	out := make([]domain.Item, len(items))
	copy(out, items)
	return out
}
