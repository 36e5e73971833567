package resume

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultCollection = "checkout_resume_markers"

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name used to store markers.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(clock func() time.Time) FirestoreOption {
	return func(store *FirestoreStore) {
		if clock != nil {
			store.clock = clock
		}
	}
}

// FirestoreStore implements Store backed by Google Cloud Firestore, for
// deployments where the customer may return to a different instance than the
// one that initiated the redirect.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	clock      func() time.Time
}

// NewFirestoreStore constructs a Firestore-backed marker store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		client:     client,
		collection: defaultCollection,
		clock:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Put stores the marker document keyed by cart id.
func (s *FirestoreStore) Put(ctx context.Context, marker Marker) error {
	cartID := strings.TrimSpace(marker.CartID)
	if cartID == "" {
		return ErrNotFound
	}
	_, err := s.client.Collection(s.collection).Doc(cartID).Set(ctx, marker)
	return err
}

// Get fetches the live marker for the cart. Expired documents are cleared and
// reported as absent.
func (s *FirestoreStore) Get(ctx context.Context, cartID string) (Marker, error) {
	cartID = strings.TrimSpace(cartID)
	snap, err := s.client.Collection(s.collection).Doc(cartID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Marker{}, ErrNotFound
		}
		return Marker{}, err
	}
	var marker Marker
	if err := snap.DataTo(&marker); err != nil {
		return Marker{}, err
	}
	if marker.Expired(s.clock()) {
		_, _ = snap.Ref.Delete(ctx)
		return Marker{}, ErrNotFound
	}
	return marker, nil
}

// Clear deletes the marker document; deleting an absent document is not an error.
func (s *FirestoreStore) Clear(ctx context.Context, cartID string) error {
	_, err := s.client.Collection(s.collection).Doc(strings.TrimSpace(cartID)).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return err
	}
	return nil
}
