package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/bazaar-commerce/storefront/internal/domain"
	"github.com/bazaar-commerce/storefront/internal/events"
	"github.com/bazaar-commerce/storefront/internal/resume"
)

type orchestratorFixture struct {
	orchestrator *Orchestrator
	events       *stubEventPublisher
}

func (f orchestratorFixture) hasEvent(eventType string) bool {
	for _, event := range f.events.published {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func newTestOrchestrator(t *testing.T, api CommerceAPI) orchestratorFixture {
	t.Helper()

	quotes := NewPriceCalculationCache(PriceCacheDeps{})
	shipping, err := NewShippingMethodSelector(ShippingMethodSelectorDeps{API: api, Quotes: quotes})
	if err != nil {
		t.Fatalf("unexpected error constructing selector: %v", err)
	}
	sessions, err := NewPaymentSessionManager(PaymentSessionManagerDeps{API: api, Registry: NewPendingRequestRegistry()})
	if err != nil {
		t.Fatalf("unexpected error constructing session manager: %v", err)
	}
	placement, err := NewOrderPlacementCoordinator(OrderPlacementCoordinatorDeps{
		API:      api,
		Resolver: NewPaymentRedirectResolver(RedirectResolverDeps{}),
		Resume:   resume.NewMemoryStore(),
		Clock:    func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing coordinator: %v", err)
	}

	publisher := &stubEventPublisher{}
	orchestrator, err := NewOrchestrator(OrchestratorDeps{
		API:       api,
		Shipping:  shipping,
		Sessions:  sessions,
		Placement: placement,
		Events:    publisher,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing orchestrator: %v", err)
	}
	return orchestratorFixture{orchestrator: orchestrator, events: publisher}
}

func TestStepForCartProgression(t *testing.T) {
	cart := domain.Cart{
		ID: "cart-1",
		Items: []domain.LineItem{
			{ID: "item-1", SellerID: "seller-a", Quantity: 1, RequiresShipping: true},
		},
		Totals: domain.CartTotals{Total: 5000},
	}
	if step := StepForCart(cart); step != StepAddress {
		t.Fatalf("expected address step, got %q", step)
	}

	cart.ShippingAddress = testAddress()
	if step := StepForCart(cart); step != StepShipping {
		t.Fatalf("expected shipping step, got %q", step)
	}

	cart.ShippingMethods = []domain.ShippingMethod{{ID: "sm-1", SellerID: "seller-a"}}
	if step := StepForCart(cart); step != StepPayment {
		t.Fatalf("expected payment step, got %q", step)
	}

	cart.PaymentCollection = &domain.PaymentCollection{
		Sessions: []domain.PaymentSession{{ID: "ps-1", ProviderID: "pp_payu", Status: domain.SessionStatusPending}},
	}
	if step := StepForCart(cart); step != StepReview {
		t.Fatalf("expected review step, got %q", step)
	}
}

func TestSelectShippingNotifiesListeners(t *testing.T) {
	api := &stubCommerceAPI{
		setMethodFunc: func(ctx context.Context, cartID, optionID string) (domain.Cart, error) {
			cart := paymentReadyCart(cartID, "pp_payu")
			cart.PaymentCollection = nil
			return cart, nil
		},
	}
	fixture := newTestOrchestrator(t, api)

	var observed []string
	fixture.orchestrator.AddListener(func(ctx context.Context, cart domain.Cart) {
		observed = append(observed, cart.ID)
	})

	view, err := fixture.orchestrator.SelectShipping(context.Background(), "cart-1", "so-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Step != StepPayment {
		t.Fatalf("expected payment step after shipping bound, got %q", view.Step)
	}
	if len(observed) != 1 || observed[0] != "cart-1" {
		t.Fatalf("expected listener notified with cart-1, got %v", observed)
	}
	if !fixture.hasEvent(events.TypeShippingSelected) {
		t.Fatalf("expected shipping selected event, got %v", fixture.events.published)
	}
}

func TestSelectPaymentProviderPublishesEvent(t *testing.T) {
	api := &stubCommerceAPI{
		getCartFunc: func(ctx context.Context, cartID string) (domain.Cart, error) {
			cart := paymentReadyCart(cartID, "pp_payu")
			cart.PaymentCollection = nil
			return cart, nil
		},
		initiateFunc: func(ctx context.Context, cartID, providerID string, paymentCtx map[string]any) (domain.PaymentSession, error) {
			return domain.PaymentSession{ID: "ps-1", ProviderID: providerID, Status: domain.SessionStatusPending}, nil
		},
		selectFunc: func(ctx context.Context, cartID, providerID string) (domain.Cart, error) {
			return paymentReadyCart(cartID, providerID), nil
		},
	}
	fixture := newTestOrchestrator(t, api)

	result, err := fixture.orchestrator.SelectPaymentProvider(context.Background(), "cart-1", "pp_payu", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Deduplicated {
		t.Fatalf("expected fresh session, got deduplicated result")
	}
	if !fixture.hasEvent(events.TypeSessionEnsured) {
		t.Fatalf("expected session ensured event, got %v", fixture.events.published)
	}
	if fixture.events.published[0].ProviderID != "pp_payu" {
		t.Fatalf("unexpected provider on event %+v", fixture.events.published[0])
	}
}

func TestSelectPaymentProviderRefreshesOnDeduplication(t *testing.T) {
	fetches := 0
	api := &stubCommerceAPI{
		getCartFunc: func(ctx context.Context, cartID string) (domain.Cart, error) {
			fetches++
			return paymentReadyCart(cartID, "pp_payu"), nil
		},
	}

	quotes := NewPriceCalculationCache(PriceCacheDeps{})
	shipping, err := NewShippingMethodSelector(ShippingMethodSelectorDeps{API: api, Quotes: quotes})
	if err != nil {
		t.Fatalf("unexpected error constructing selector: %v", err)
	}
	registry := NewPendingRequestRegistry()
	sessions, err := NewPaymentSessionManager(PaymentSessionManagerDeps{API: api, Registry: registry})
	if err != nil {
		t.Fatalf("unexpected error constructing session manager: %v", err)
	}
	placement, err := NewOrderPlacementCoordinator(OrderPlacementCoordinatorDeps{
		API:      api,
		Resolver: NewPaymentRedirectResolver(RedirectResolverDeps{}),
		Resume:   resume.NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing coordinator: %v", err)
	}
	orchestrator, err := NewOrchestrator(OrchestratorDeps{API: api, Shipping: shipping, Sessions: sessions, Placement: placement})
	if err != nil {
		t.Fatalf("unexpected error constructing orchestrator: %v", err)
	}

	// Simulate a concurrent ensure already holding the key.
	if !registry.TryAcquire(SessionKey("pp_payu", "cart-1")) {
		t.Fatalf("failed to pre-acquire key")
	}

	result, err := orchestrator.SelectPaymentProvider(context.Background(), "cart-1", "pp_payu", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Deduplicated {
		t.Fatalf("expected deduplicated result")
	}
	if fetches != 2 {
		t.Fatalf("expected a refresh fetch after deduplication, got %d fetches", fetches)
	}
	if result.Cart.ID != "cart-1" {
		t.Fatalf("unexpected cart %+v", result.Cart)
	}
}
