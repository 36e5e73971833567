package checkout

import (
	"fmt"
	"strings"
	"sync"
)

// PendingRequestRegistry tracks in-flight request keys for one checkout
// session. It exists purely to suppress duplicate concurrent submissions
// (double-clicks, re-renders); it is never persisted and a fresh instance is
// constructed per checkout scope.
type PendingRequestRegistry struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewPendingRequestRegistry constructs an empty registry.
func NewPendingRequestRegistry() *PendingRequestRegistry {
	return &PendingRequestRegistry{inflight: make(map[string]struct{})}
}

// SessionKey derives the idempotency key for a payment-session request.
func SessionKey(providerID, cartID string) string {
	return fmt.Sprintf("payment-%s-%s", strings.TrimSpace(providerID), strings.TrimSpace(cartID))
}

// TryAcquire registers the key, reporting false when it is already in flight.
func (r *PendingRequestRegistry) TryAcquire(key string) bool {
	if r == nil || strings.TrimSpace(key) == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inflight[key]; ok {
		return false
	}
	r.inflight[key] = struct{}{}
	return true
}

// Release removes the key. Safe to call for keys that were never acquired.
func (r *PendingRequestRegistry) Release(key string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, key)
}

// InFlight reports whether the key is currently registered.
func (r *PendingRequestRegistry) InFlight(key string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[key]
	return ok
}
