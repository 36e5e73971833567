package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bazaar-commerce/storefront/internal/commerce"
	"github.com/bazaar-commerce/storefront/internal/domain"
	"github.com/bazaar-commerce/storefront/internal/events"
	"github.com/bazaar-commerce/storefront/internal/resume"
)

// Submission states reported to callers.
const (
	// StateRedirecting means the customer must complete payment off-site.
	StateRedirecting = "redirecting"
	// StateOrderPlaced means the order exists and checkout is finished.
	StateOrderPlaced = "order_placed"
)

// SubmitResult is the outcome of a submission or a redirect return.
type SubmitResult struct {
	State       string
	RedirectURL string
	Order       domain.Order
}

// ReturnParams carries the query parameters a payment provider appends when
// sending the customer back.
type ReturnParams struct {
	Status  string
	OrderID string
}

// ParseReturnParams extracts the provider outcome from return-URL query
// values. Providers disagree on naming, so any "*Status" key counts.
func ParseReturnParams(values url.Values) ReturnParams {
	params := ReturnParams{}
	for key := range values {
		if strings.EqualFold(key, "status") || strings.HasSuffix(key, "Status") {
			params.Status = strings.TrimSpace(values.Get(key))
			break
		}
	}
	for _, key := range []string{"orderId", "order_id"} {
		if v := strings.TrimSpace(values.Get(key)); v != "" {
			params.OrderID = v
			break
		}
	}
	return params
}

// Succeeded reports whether the provider declared the payment successful.
func (p ReturnParams) Succeeded() bool {
	return strings.EqualFold(p.Status, "SUCCESS")
}

// OrderPlacementCoordinatorDeps lists the collaborators the coordinator requires.
type OrderPlacementCoordinatorDeps struct {
	API      CommerceAPI
	Resolver *PaymentRedirectResolver
	Resume   resume.Store
	Events   events.Publisher
	Logger   LogFunc
	Clock    func() time.Time
	// MarkerTTL bounds redirect marker lifetime; defaults to resume.DefaultTTL.
	MarkerTTL time.Duration
}

// OrderPlacementCoordinator owns the final step of checkout. It prefers the
// cheapest conclusive signal first: a redirect already present on the session,
// then an authorization attempt, and only as a last resort full placement.
// A per-cart latch rejects duplicate submissions, and survives the window
// between a resolved redirect and the browser actually navigating.
type OrderPlacementCoordinator struct {
	api       CommerceAPI
	resolver  *PaymentRedirectResolver
	resume    resume.Store
	events    events.Publisher
	logger    LogFunc
	clock     func() time.Time
	markerTTL time.Duration

	mu      sync.Mutex
	latched map[string]struct{}
}

// NewOrderPlacementCoordinator validates dependencies and builds the coordinator.
func NewOrderPlacementCoordinator(deps OrderPlacementCoordinatorDeps) (*OrderPlacementCoordinator, error) {
	if deps.API == nil {
		return nil, errors.New("checkout: commerce api is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("checkout: redirect resolver is required")
	}
	if deps.Resume == nil {
		return nil, errors.New("checkout: resume store is required")
	}
	publisher := deps.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	ttl := deps.MarkerTTL
	if ttl <= 0 {
		ttl = resume.DefaultTTL
	}
	return &OrderPlacementCoordinator{
		api:       deps.API,
		resolver:  deps.Resolver,
		resume:    deps.Resume,
		events:    publisher,
		logger:    deps.Logger,
		clock:     normalizeClock(deps.Clock),
		markerTTL: ttl,
		latched:   make(map[string]struct{}),
	}, nil
}

// Submit drives the cart to a terminal outcome: a redirect the caller must
// follow, or a placed order.
//
// The latch is released on every error and on order placement. A redirect
// outcome keeps it held; Resume releases it when the customer returns.
func (c *OrderPlacementCoordinator) Submit(ctx context.Context, cart domain.Cart) (SubmitResult, error) {
	if strings.TrimSpace(cart.ID) == "" {
		return SubmitResult{}, fmt.Errorf("%w: cart id is required", ErrInvalidInput)
	}
	if !cart.PaymentReady() {
		return SubmitResult{}, fmt.Errorf("%w: address, shipping and payment must be completed", ErrCartNotReady)
	}
	if !c.tryLatch(cart.ID) {
		return SubmitResult{}, ErrSubmissionInFlight
	}

	keepLatch := false
	defer func() {
		if !keepLatch {
			c.unlatch(cart.ID)
		}
	}()

	ctx = commerce.WithIdempotencyKey(ctx, "place-order-"+cart.ID)

	// Gift cards covering the full total leave no session to authorize.
	session, hasSession := cart.ActiveSession()
	if !hasSession {
		if cart.Totals.Total != 0 {
			return SubmitResult{}, fmt.Errorf("%w: no active payment session", ErrCartNotReady)
		}
		return c.placeOrder(ctx, cart, "")
	}

	// The session may already carry the navigation target from initiation.
	if result, done, err := c.concludeFromPayload(ctx, cart, session, session.Data, &keepLatch); done {
		return result, err
	}

	payload, err := c.api.AuthorizePaymentSession(ctx, session.ID, map[string]any{"cart_id": cart.ID})
	switch {
	case err == nil:
		if result, done, err := c.concludeFromPayload(ctx, cart, session, payload, &keepLatch); done {
			return result, err
		}
	case commerce.IsRedirectSignal(err):
		// The backend aborted authorization to hand control to the provider;
		// the navigation is already underway on the client.
		if markErr := c.markRedirect(ctx, cart, session); markErr != nil {
			return SubmitResult{}, markErr
		}
		keepLatch = true
		return SubmitResult{State: StateRedirecting}, nil
	case commerce.IsBenignConflict(err):
		// Already authorized by a prior attempt; placement below settles it.
	default:
		c.publishEvent(ctx, events.TypeSubmitFailed, cart.ID, session.ProviderID, "")
		return SubmitResult{}, mapBackendError(err)
	}

	logEvent(ctx, c.logger, "checkout.submit.placement_fallback", map[string]any{
		"cart_id":     cart.ID,
		"provider_id": session.ProviderID,
	})
	result, err := c.placeOrder(ctx, cart, session.ProviderID)
	if err != nil {
		return SubmitResult{}, err
	}
	if result.State == StateRedirecting {
		if markErr := c.markRedirect(ctx, cart, session); markErr != nil {
			return SubmitResult{}, markErr
		}
		keepLatch = true
	}
	return result, nil
}

// concludeFromPayload resolves a provider payload; done=true means the payload
// was conclusive and the returned result/err are final.
func (c *OrderPlacementCoordinator) concludeFromPayload(ctx context.Context, cart domain.Cart, session domain.PaymentSession, payload map[string]any, keepLatch *bool) (SubmitResult, bool, error) {
	outcome := c.resolver.Resolve(ctx, payload)
	switch {
	case outcome.Redirect():
		if err := c.markRedirect(ctx, cart, session); err != nil {
			return SubmitResult{}, true, err
		}
		*keepLatch = true
		return SubmitResult{State: StateRedirecting, RedirectURL: outcome.URL}, true, nil
	case outcome.Confirmed():
		result := SubmitResult{
			State: StateOrderPlaced,
			Order: domain.Order{ID: outcome.OrderID, CartID: cart.ID, CreatedAt: c.clock()},
		}
		c.finishPlacement(ctx, cart.ID, session.ProviderID, outcome.OrderID)
		return result, true, nil
	default:
		return SubmitResult{}, false, nil
	}
}

func (c *OrderPlacementCoordinator) placeOrder(ctx context.Context, cart domain.Cart, providerID string) (SubmitResult, error) {
	order, payload, err := c.api.PlaceOrder(ctx, cart.ID)
	if err != nil {
		if commerce.IsRedirectSignal(err) {
			return SubmitResult{State: StateRedirecting}, nil
		}
		c.publishEvent(ctx, events.TypeSubmitFailed, cart.ID, providerID, "")
		return SubmitResult{}, mapBackendError(err)
	}

	if outcome := c.resolver.Resolve(ctx, payload); outcome.Redirect() {
		logEvent(ctx, c.logger, "checkout.submit.redirect_from_placement", map[string]any{
			"cart_id": cart.ID,
		})
		return SubmitResult{State: StateRedirecting, RedirectURL: outcome.URL}, nil
	}
	if order.ID == "" {
		c.publishEvent(ctx, events.TypeSubmitFailed, cart.ID, providerID, "")
		return SubmitResult{}, fmt.Errorf("%w: placement returned neither order nor redirect", ErrBackendUnavailable)
	}

	c.finishPlacement(ctx, cart.ID, providerID, order.ID)
	return SubmitResult{State: StateOrderPlaced, Order: order}, nil
}

// Resume concludes a checkout after the customer returns from an off-site
// payment page. It never re-invokes payment calls: the provider's verdict in
// the return parameters is final.
func (c *OrderPlacementCoordinator) Resume(ctx context.Context, cartID string, params ReturnParams) (SubmitResult, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return SubmitResult{}, fmt.Errorf("%w: cart id is required", ErrInvalidInput)
	}

	marker, err := c.resume.Get(ctx, cartID)
	if errors.Is(err, resume.ErrNotFound) {
		c.unlatch(cartID)
		return SubmitResult{}, ErrNoRedirectPending
	}
	if err != nil {
		return SubmitResult{}, err
	}

	// Whatever the verdict, the redirect is over.
	if err := c.resume.Clear(ctx, cartID); err != nil {
		logEvent(ctx, c.logger, "checkout.resume.clear_failed", map[string]any{
			"cart_id": cartID,
			"error":   err.Error(),
		})
	}
	c.unlatch(cartID)

	if !params.Succeeded() {
		c.publishEvent(ctx, events.TypeSubmitFailed, cartID, marker.ProviderID, "")
		logEvent(ctx, c.logger, "checkout.resume.declined", map[string]any{
			"cart_id":     cartID,
			"provider_id": marker.ProviderID,
			"status":      params.Status,
		})
		return SubmitResult{}, fmt.Errorf("%w: provider reported %q", ErrPaymentNotCompleted, params.Status)
	}

	orderID := params.OrderID
	if orderID == "" {
		// Some providers confirm without echoing the order id; the cart id
		// still routes the customer to the right confirmation.
		orderID = cartID
	}
	order := domain.Order{ID: orderID, CartID: cartID, CreatedAt: c.clock()}
	c.publishEvent(ctx, events.TypeOrderPlaced, cartID, marker.ProviderID, order.ID)
	logEvent(ctx, c.logger, "checkout.resume.completed", map[string]any{
		"cart_id":     cartID,
		"provider_id": marker.ProviderID,
		"order_id":    order.ID,
	})
	return SubmitResult{State: StateOrderPlaced, Order: order}, nil
}

// InFlight reports whether a submission latch is held for the cart.
func (c *OrderPlacementCoordinator) InFlight(cartID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.latched[cartID]
	return ok
}

func (c *OrderPlacementCoordinator) tryLatch(cartID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.latched[cartID]; ok {
		return false
	}
	c.latched[cartID] = struct{}{}
	return true
}

func (c *OrderPlacementCoordinator) unlatch(cartID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.latched, cartID)
}

func (c *OrderPlacementCoordinator) markRedirect(ctx context.Context, cart domain.Cart, session domain.PaymentSession) error {
	now := c.clock()
	err := c.resume.Put(ctx, resume.Marker{
		CartID:     cart.ID,
		ProviderID: session.ProviderID,
		SessionID:  session.ID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.markerTTL),
	})
	if err != nil {
		return fmt.Errorf("store redirect marker: %w", err)
	}
	c.publishEvent(ctx, events.TypeRedirectStarted, cart.ID, session.ProviderID, "")
	return nil
}

func (c *OrderPlacementCoordinator) finishPlacement(ctx context.Context, cartID, providerID, orderID string) {
	if err := c.resume.Clear(ctx, cartID); err != nil {
		logEvent(ctx, c.logger, "checkout.placement.clear_failed", map[string]any{
			"cart_id": cartID,
			"error":   err.Error(),
		})
	}
	c.publishEvent(ctx, events.TypeOrderPlaced, cartID, providerID, orderID)
}

func (c *OrderPlacementCoordinator) publishEvent(ctx context.Context, eventType, cartID, providerID, orderID string) {
	if _, err := c.events.PublishCheckoutEvent(ctx, events.CheckoutEvent{
		Type:       eventType,
		CartID:     cartID,
		ProviderID: providerID,
		OrderID:    orderID,
		OccurredAt: c.clock(),
	}); err != nil {
		logEvent(ctx, c.logger, "checkout.events.publish_failed", map[string]any{
			"cart_id": cartID,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}
