package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bazaar-commerce/storefront/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("unexpected error constructing client: %v", err)
	}
	return client, server
}

func TestGetCartDecodesEnvelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/carts/cart-1" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Fatalf("missing api key header")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"cart": map[string]any{
				"id":            "cart-1",
				"currency_code": "pln",
				"total":         6200,
				"items": []map[string]any{
					{"id": "item-1", "seller_id": "seller-a", "quantity": 2, "requires_shipping": true},
				},
			},
		})
	}))

	cart, err := client.GetCart(context.Background(), "cart-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cart.ID != "cart-1" {
		t.Fatalf("unexpected cart id %q", cart.ID)
	}
	if cart.Currency != "PLN" {
		t.Fatalf("expected currency uppercased, got %q", cart.Currency)
	}
	if cart.Totals.Total != 6200 {
		t.Fatalf("unexpected total %d", cart.Totals.Total)
	}
	if len(cart.Items) != 1 || cart.Items[0].SellerID != "seller-a" {
		t.Fatalf("unexpected items %+v", cart.Items)
	}
}

func TestInitiatePaymentSessionSendsIdempotencyKey(t *testing.T) {
	var gotKey string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["provider_id"] != "pp_payu" {
			t.Fatalf("unexpected body %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"payment_session": map[string]any{"id": "ps-1", "provider_id": "pp_payu", "status": "PENDING"},
		})
	}))

	ctx := WithIdempotencyKey(context.Background(), "payment-pp_payu-cart-1")
	session, err := client.InitiatePaymentSession(ctx, "cart-1", "pp_payu", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "payment-pp_payu-cart-1" {
		t.Fatalf("unexpected idempotency key %q", gotKey)
	}
	if session.Status != domain.SessionStatusPending {
		t.Fatalf("expected status normalized, got %q", session.Status)
	}
}

func TestClientClassifiesConflictResponses(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"message": "Cart cart-1 already has a payment collection",
		})
	}))

	_, err := client.InitiatePaymentSession(context.Background(), "cart-1", "pp_payu", nil)
	if !IsBenignConflict(err) {
		t.Fatalf("expected benign conflict, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("expected status preserved, got %v", err)
	}
}

func TestClientSurfacesErrorEnvelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "option so-9 does not belong to cart"})
	}))

	_, err := client.SetShippingMethod(context.Background(), "cart-1", "so-9")
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation kind, got %v", err)
	}
}

func TestPlaceOrderReturnsRawPayload(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/carts/cart-1/complete" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"order":        map[string]any{"id": "order-1", "currency_code": "pln", "total": 6200},
			"redirect_url": "about:blank",
		})
	}))

	order, payload, err := client.PlaceOrder(context.Background(), "cart-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.ID != "order-1" || order.CartID != "cart-1" {
		t.Fatalf("unexpected order %+v", order)
	}
	if payload["redirect_url"] != "about:blank" {
		t.Fatalf("expected raw payload preserved, got %+v", payload)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}
