package resume

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps markers in process memory. Suitable for tests and
// single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	clock   func() time.Time
	markers map[string]Marker
}

// MemoryOption customises the MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the time source.
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(store *MemoryStore) {
		if clock != nil {
			store.clock = clock
		}
	}
}

// NewMemoryStore constructs an empty in-memory marker store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	store := &MemoryStore{
		clock:   func() time.Time { return time.Now().UTC() },
		markers: make(map[string]Marker),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Put stores the marker, replacing any existing one for the cart.
func (s *MemoryStore) Put(_ context.Context, marker Marker) error {
	cartID := strings.TrimSpace(marker.CartID)
	if cartID == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[cartID] = marker
	return nil
}

// Get returns the live marker for the cart; expired markers are dropped.
func (s *MemoryStore) Get(_ context.Context, cartID string) (Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	marker, ok := s.markers[strings.TrimSpace(cartID)]
	if !ok {
		return Marker{}, ErrNotFound
	}
	if marker.Expired(s.clock()) {
		delete(s.markers, marker.CartID)
		return Marker{}, ErrNotFound
	}
	return marker, nil
}

// Clear removes the marker. Clearing an absent marker is not an error.
func (s *MemoryStore) Clear(_ context.Context, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, strings.TrimSpace(cartID))
	return nil
}
