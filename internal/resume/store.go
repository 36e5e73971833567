// Package resume persists the marker that bridges an off-site payment
// redirect: written just before the customer leaves for the provider, read
// when they return, cleared on a terminal outcome. Without it a returning
// customer cannot be distinguished from one opening checkout fresh.
package resume

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL bounds how long an abandoned redirect marker stays readable.
// Providers time out hosted pages well before this.
const DefaultTTL = time.Hour

// ErrNotFound is returned when no live marker exists for a cart.
var ErrNotFound = errors.New("resume: marker not found")

// Marker records an in-flight redirect for one cart.
type Marker struct {
	CartID     string    `firestore:"cartId"`
	ProviderID string    `firestore:"providerId"`
	SessionID  string    `firestore:"sessionId"`
	CreatedAt  time.Time `firestore:"createdAt"`
	ExpiresAt  time.Time `firestore:"expiresAt"`
}

// Expired reports whether the marker is past its TTL at the given instant.
func (m Marker) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && !now.Before(m.ExpiresAt)
}

// Store persists redirect markers keyed by cart id. A cart holds at most one
// marker; Put replaces any previous one.
type Store interface {
	Put(ctx context.Context, marker Marker) error
	Get(ctx context.Context, cartID string) (Marker, error)
	Clear(ctx context.Context, cartID string) error
}
