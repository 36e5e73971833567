package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bazaar-commerce/storefront/internal/domain"
	"github.com/bazaar-commerce/storefront/internal/events"
)

// Step identifies the checkout stage a cart has reached.
type Step string

const (
	StepAddress  Step = "address"
	StepShipping Step = "shipping"
	StepPayment  Step = "payment"
	StepReview   Step = "review"
)

// StepForCart derives the current step from authoritative cart state. Address
// capture is handled by generic cart CRUD; everything after it is owned here.
func StepForCart(cart domain.Cart) Step {
	if cart.ShippingAddress == nil {
		return StepAddress
	}
	if len(cart.ShippingMethods) < len(cart.SellerIDs()) {
		return StepShipping
	}
	if !cart.PaymentReady() {
		return StepPayment
	}
	return StepReview
}

// OrchestratorDeps lists the collaborators the orchestrator requires.
type OrchestratorDeps struct {
	API       CommerceAPI
	Shipping  *ShippingMethodSelector
	Sessions  *PaymentSessionManager
	Placement *OrderPlacementCoordinator
	Events    events.Publisher
	Logger    LogFunc
	Clock     func() time.Time
}

// Orchestrator is the single entry point the transport layer talks to. Every
// mutation flows through the commerce backend and the re-derived cart fans out
// to registered listeners, so observers always see server truth.
type Orchestrator struct {
	api       CommerceAPI
	shipping  *ShippingMethodSelector
	sessions  *PaymentSessionManager
	placement *OrderPlacementCoordinator
	events    events.Publisher
	logger    LogFunc
	clock     func() time.Time

	mu        sync.RWMutex
	listeners []CartListener
}

// NewOrchestrator validates dependencies and builds the orchestrator.
func NewOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	if deps.API == nil {
		return nil, errors.New("checkout: commerce api is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("checkout: shipping selector is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("checkout: session manager is required")
	}
	if deps.Placement == nil {
		return nil, errors.New("checkout: placement coordinator is required")
	}
	publisher := deps.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Orchestrator{
		api:       deps.API,
		shipping:  deps.Shipping,
		sessions:  deps.Sessions,
		placement: deps.Placement,
		events:    publisher,
		logger:    deps.Logger,
		clock:     normalizeClock(deps.Clock),
	}, nil
}

// AddListener registers an observer for re-derived cart state. Listeners run
// synchronously and must not block.
func (o *Orchestrator) AddListener(listener CartListener) {
	if listener == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, listener)
}

func (o *Orchestrator) notify(ctx context.Context, cart domain.Cart) {
	o.mu.RLock()
	listeners := o.listeners
	o.mu.RUnlock()
	for _, listener := range listeners {
		listener(ctx, cart)
	}
}

// CartView pairs a cart with its derived checkout step.
type CartView struct {
	Cart domain.Cart
	Step Step
}

// LoadCart fetches the authoritative cart and derives its step.
func (o *Orchestrator) LoadCart(ctx context.Context, cartID string) (CartView, error) {
	if strings.TrimSpace(cartID) == "" {
		return CartView{}, fmt.Errorf("%w: cart id is required", ErrInvalidInput)
	}
	cart, err := o.api.GetCart(ctx, cartID)
	if err != nil {
		return CartView{}, mapBackendError(err)
	}
	return CartView{Cart: cart, Step: StepForCart(cart)}, nil
}

// ShippingOptions renders the shipping step for the cart.
func (o *Orchestrator) ShippingOptions(ctx context.Context, cartID string) (CartView, ShippingOptionListing, error) {
	view, err := o.LoadCart(ctx, cartID)
	if err != nil {
		return CartView{}, ShippingOptionListing{}, err
	}
	listing, err := o.shipping.ListOptions(ctx, view.Cart)
	if err != nil {
		return CartView{}, ShippingOptionListing{}, mapBackendError(err)
	}
	return view, listing, nil
}

// SelectShipping binds a shipping option and broadcasts the re-derived cart.
func (o *Orchestrator) SelectShipping(ctx context.Context, cartID, optionID string) (CartView, error) {
	cart, err := o.shipping.SelectMethod(ctx, cartID, optionID)
	if err != nil {
		return CartView{}, mapBackendError(err)
	}
	o.notify(ctx, cart)
	o.publishEvent(ctx, events.TypeShippingSelected, cart.ID, "")
	return CartView{Cart: cart, Step: StepForCart(cart)}, nil
}

// RemoveShipping unbinds a shipping method and broadcasts the re-derived cart.
func (o *Orchestrator) RemoveShipping(ctx context.Context, cartID, methodID string) (CartView, error) {
	cart, err := o.shipping.RemoveMethod(ctx, cartID, methodID)
	if err != nil {
		return CartView{}, mapBackendError(err)
	}
	o.notify(ctx, cart)
	return CartView{Cart: cart, Step: StepForCart(cart)}, nil
}

// SelectPaymentProvider ensures a pending session for the provider and
// broadcasts the resulting cart. A deduplicated call re-reads cart state so
// the caller still receives current truth.
func (o *Orchestrator) SelectPaymentProvider(ctx context.Context, cartID, providerID string, paymentCtx map[string]any) (EnsureSessionResult, error) {
	view, err := o.LoadCart(ctx, cartID)
	if err != nil {
		return EnsureSessionResult{}, err
	}
	result, err := o.sessions.EnsureSession(ctx, view.Cart, providerID, paymentCtx)
	if err != nil {
		return EnsureSessionResult{}, err
	}
	if result.Deduplicated {
		refreshed, err := o.LoadCart(ctx, cartID)
		if err != nil {
			return EnsureSessionResult{}, err
		}
		result.Cart = refreshed.Cart
		return result, nil
	}
	o.notify(ctx, result.Cart)
	o.publishEvent(ctx, events.TypeSessionEnsured, cartID, providerID)
	return result, nil
}

func (o *Orchestrator) publishEvent(ctx context.Context, eventType, cartID, providerID string) {
	if _, err := o.events.PublishCheckoutEvent(ctx, events.CheckoutEvent{
		Type:       eventType,
		CartID:     cartID,
		ProviderID: providerID,
		OccurredAt: o.clock(),
	}); err != nil {
		logEvent(ctx, o.logger, "checkout.events.publish_failed", map[string]any{
			"cart_id": cartID,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}

// Submit drives the cart to a redirect or a placed order.
func (o *Orchestrator) Submit(ctx context.Context, cartID string) (SubmitResult, error) {
	view, err := o.LoadCart(ctx, cartID)
	if err != nil {
		return SubmitResult{}, err
	}
	return o.placement.Submit(ctx, view.Cart)
}

// Resume concludes checkout after the customer returns from an off-site
// payment page.
func (o *Orchestrator) Resume(ctx context.Context, cartID string, query url.Values) (SubmitResult, error) {
	return o.placement.Resume(ctx, cartID, ParseReturnParams(query))
}
