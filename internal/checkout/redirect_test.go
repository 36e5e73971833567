package checkout

import (
	"context"
	"testing"
)

func newTestResolver() *PaymentRedirectResolver {
	return NewPaymentRedirectResolver(RedirectResolverDeps{})
}

func TestRedirectResolverPayUShape(t *testing.T) {
	outcome := newTestResolver().Resolve(context.Background(), map[string]any{
		"payu_data": map[string]any{
			"redirectUri": "https://secure.payu.com/pay/abc",
		},
	})
	if !outcome.Redirect() {
		t.Fatalf("expected redirect outcome")
	}
	if outcome.URL != "https://secure.payu.com/pay/abc" {
		t.Fatalf("unexpected url %q", outcome.URL)
	}
	if outcome.Source != "payu_data" {
		t.Fatalf("unexpected source %q", outcome.Source)
	}
}

func TestRedirectResolverStripeNextAction(t *testing.T) {
	outcome := newTestResolver().Resolve(context.Background(), map[string]any{
		"id":     "pi_123",
		"object": "payment_intent",
		"next_action": map[string]any{
			"type": "redirect_to_url",
			"redirect_to_url": map[string]any{
				"url":        "https://hooks.stripe.com/redirect/authenticate/src_1",
				"return_url": "https://shop.example/checkout/resume",
			},
		},
	})
	if outcome.URL != "https://hooks.stripe.com/redirect/authenticate/src_1" {
		t.Fatalf("unexpected url %q", outcome.URL)
	}
}

func TestRedirectResolverFlatAndNestedKeys(t *testing.T) {
	resolver := newTestResolver()

	outcome := resolver.Resolve(context.Background(), map[string]any{"redirect_url": "https://pay.example/a"})
	if outcome.URL != "https://pay.example/a" {
		t.Fatalf("unexpected flat-key url %q", outcome.URL)
	}

	outcome = resolver.Resolve(context.Background(), map[string]any{
		"data": map[string]any{"redirectUri": "https://pay.example/b"},
	})
	if outcome.URL != "https://pay.example/b" {
		t.Fatalf("unexpected nested url %q", outcome.URL)
	}
}

func TestRedirectResolverPrefersTopLevelKey(t *testing.T) {
	outcome := newTestResolver().Resolve(context.Background(), map[string]any{
		"redirect_url": "https://pay.example/top",
		"next_action": map[string]any{
			"type": "redirect_to_url",
			"redirect_to_url": map[string]any{
				"url": "https://hooks.stripe.com/redirect/authenticate/src_2",
			},
		},
	})
	if outcome.URL != "https://pay.example/top" {
		t.Fatalf("expected top-level key to win, got %q", outcome.URL)
	}
	if outcome.Source != "known_keys" {
		t.Fatalf("unexpected source %q", outcome.Source)
	}
}

func TestRedirectResolverTreatsBlankAsAbsent(t *testing.T) {
	outcome := newTestResolver().Resolve(context.Background(), map[string]any{
		"redirect_url": "about:blank",
	})
	if outcome.Redirect() {
		t.Fatalf("expected about:blank to resolve to no redirect, got %q", outcome.URL)
	}
}

func TestRedirectResolverRedirectBeatsOrderID(t *testing.T) {
	outcome := newTestResolver().Resolve(context.Background(), map[string]any{
		"redirect_url": "https://pay.example/finish",
		"order":        map[string]any{"id": "order-77"},
	})
	if !outcome.Redirect() {
		t.Fatalf("expected redirect when payload carries both signals")
	}
	if outcome.URL != "https://pay.example/finish" {
		t.Fatalf("unexpected url %q", outcome.URL)
	}
	if outcome.Confirmed() {
		t.Fatalf("expected order id ignored while a redirect is pending")
	}
}

func TestRedirectResolverTerminalOrderWithoutRedirect(t *testing.T) {
	outcome := newTestResolver().Resolve(context.Background(), map[string]any{
		"order": map[string]any{"id": "order-77"},
	})
	if outcome.Redirect() {
		t.Fatalf("expected no redirect, got %q", outcome.URL)
	}
	if outcome.OrderID != "order-77" {
		t.Fatalf("unexpected order id %q", outcome.OrderID)
	}

	outcome = newTestResolver().Resolve(context.Background(), map[string]any{
		"order_id": "order-78",
	})
	if outcome.OrderID != "order-78" {
		t.Fatalf("unexpected order id %q", outcome.OrderID)
	}
}

func TestRedirectResolverEmptyPayload(t *testing.T) {
	outcome := newTestResolver().Resolve(context.Background(), nil)
	if outcome.Redirect() || outcome.Confirmed() {
		t.Fatalf("expected empty outcome")
	}
}
