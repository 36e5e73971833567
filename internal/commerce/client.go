package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bazaar-commerce/storefront/internal/domain"
)

const (
	defaultTimeout    = 8 * time.Second
	idempotencyHeader = "Idempotency-Key"
	apiKeyHeader      = "X-Api-Key"
)

var tracer = otel.Tracer("github.com/bazaar-commerce/storefront/internal/commerce")

// Client issues checkout calls against the commerce backend. The backend is
// treated as opaque: request/response shapes are mapped to domain types here
// and nowhere else.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// Config captures the parameters required to construct a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// BreakerName labels the circuit breaker in logs and metrics.
	BreakerName string
}

// NewClient constructs a commerce API client with a circuit breaker around all calls.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("commerce: base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	name := strings.TrimSpace(cfg.BreakerName)
	if name == "" {
		name = "commerce-api"
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// 4xx responses are caller mistakes, not backend outages.
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Kind != KindNetwork && (apiErr.Status == 0 || apiErr.Status < 500)
			}
			return err == nil
		},
	})

	return &Client{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
	}, nil
}

// GetCart fetches the authoritative cart state.
func (c *Client) GetCart(ctx context.Context, cartID string) (domain.Cart, error) {
	var payload cartEnvelope
	err := c.call(ctx, callSpec{op: "get_cart", method: http.MethodGet, path: joinPath("carts", cartID)}, &payload)
	if err != nil {
		return domain.Cart{}, err
	}
	return payload.Cart.toDomain(), nil
}

// ListShippingOptions returns every shipping option offered against the cart.
func (c *Client) ListShippingOptions(ctx context.Context, cartID string) ([]domain.ShippingOption, error) {
	var payload struct {
		Options []shippingOptionPayload `json:"shipping_options"`
	}
	err := c.call(ctx, callSpec{op: "list_shipping_options", method: http.MethodGet, path: joinPath("carts", cartID, "shipping-options")}, &payload)
	if err != nil {
		return nil, err
	}
	options := make([]domain.ShippingOption, 0, len(payload.Options))
	for _, opt := range payload.Options {
		options = append(options, opt.toDomain())
	}
	return options, nil
}

// SetShippingMethod binds a shipping option to the cart, replacing any prior
// method for the same seller, and returns the re-derived cart.
func (c *Client) SetShippingMethod(ctx context.Context, cartID, shippingOptionID string) (domain.Cart, error) {
	var payload cartEnvelope
	err := c.call(ctx, callSpec{
		op:         "set_shipping_method",
		method:     http.MethodPost,
		path:       joinPath("carts", cartID, "shipping-methods"),
		body:       map[string]string{"option_id": shippingOptionID},
		idempotent: true,
	}, &payload)
	if err != nil {
		return domain.Cart{}, err
	}
	return payload.Cart.toDomain(), nil
}

// RemoveShippingMethod deletes a shipping method binding.
func (c *Client) RemoveShippingMethod(ctx context.Context, shippingMethodID string) error {
	return c.call(ctx, callSpec{
		op:     "remove_shipping_method",
		method: http.MethodDelete,
		path:   joinPath("shipping-methods", shippingMethodID),
	}, nil)
}

// CalculateShippingOptionPrice requests a quote for a calculated option.
func (c *Client) CalculateShippingOptionPrice(ctx context.Context, shippingOptionID, cartID string) (int64, error) {
	var payload struct {
		Amount int64 `json:"amount"`
	}
	err := c.call(ctx, callSpec{
		op:     "calculate_shipping_price",
		method: http.MethodPost,
		path:   joinPath("shipping-options", shippingOptionID, "calculate"),
		body:   map[string]string{"cart_id": cartID},
	}, &payload)
	if err != nil {
		return 0, err
	}
	return payload.Amount, nil
}

// InitiatePaymentSession asks the backend to open a payment session for the provider.
func (c *Client) InitiatePaymentSession(ctx context.Context, cartID, providerID string, paymentCtx map[string]any) (domain.PaymentSession, error) {
	body := map[string]any{"provider_id": providerID}
	if len(paymentCtx) > 0 {
		body["context"] = paymentCtx
	}
	var payload struct {
		Session paymentSessionPayload `json:"payment_session"`
	}
	err := c.call(ctx, callSpec{
		op:         "initiate_payment_session",
		method:     http.MethodPost,
		path:       joinPath("carts", cartID, "payment-sessions"),
		body:       body,
		idempotent: true,
	}, &payload)
	if err != nil {
		return domain.PaymentSession{}, err
	}
	return payload.Session.toDomain(), nil
}

// SelectPaymentSession marks the provider's session active on the cart and
// records the chosen provider in cart metadata; returns the re-derived cart.
func (c *Client) SelectPaymentSession(ctx context.Context, cartID, providerID string) (domain.Cart, error) {
	var payload cartEnvelope
	err := c.call(ctx, callSpec{
		op:         "select_payment_session",
		method:     http.MethodPost,
		path:       joinPath("carts", cartID, "payment-sessions", providerID, "select"),
		idempotent: true,
	}, &payload)
	if err != nil {
		return domain.Cart{}, err
	}
	return payload.Cart.toDomain(), nil
}

// AuthorizePaymentSession attempts authorization of a known session. The raw
// response is returned because providers disagree on where a follow-up
// redirect, if any, is encoded.
func (c *Client) AuthorizePaymentSession(ctx context.Context, sessionID string, authCtx map[string]any) (map[string]any, error) {
	body := map[string]any{}
	if len(authCtx) > 0 {
		body["context"] = authCtx
	}
	var payload map[string]any
	err := c.call(ctx, callSpec{
		op:         "authorize_payment_session",
		method:     http.MethodPost,
		path:       joinPath("payment-sessions", sessionID, "authorize"),
		body:       body,
		idempotent: true,
	}, &payload)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// PlaceOrder converts the cart into an order. The raw response is preserved
// alongside the typed result: some providers surface a redirect here instead
// of an order id.
func (c *Client) PlaceOrder(ctx context.Context, cartID string) (domain.Order, map[string]any, error) {
	var payload map[string]any
	err := c.call(ctx, callSpec{
		op:         "place_order",
		method:     http.MethodPost,
		path:       joinPath("carts", cartID, "complete"),
		idempotent: true,
	}, &payload)
	if err != nil {
		return domain.Order{}, nil, err
	}
	return orderFromPayload(payload, cartID), payload, nil
}

// callSpec captures one backend invocation.
type callSpec struct {
	op         string
	method     string
	path       string
	body       any
	idempotent bool
}

func (c *Client) call(ctx context.Context, spec callSpec, out any) error {
	if c == nil || c.http == nil {
		return &APIError{Kind: KindNetwork, Message: "client not initialised"}
	}

	ctx, span := tracer.Start(ctx, "commerce."+spec.op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", spec.method),
		attribute.String("url.path", spec.path),
	)

	raw, err := c.breaker.Execute(func() ([]byte, error) {
		return c.doRequest(ctx, spec)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = newNetworkError(err)
		}
		span.RecordError(err)
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Kind: KindProvider, Message: fmt.Sprintf("decode %s response: %v", spec.op, err), wrapped: err}
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, spec callSpec) ([]byte, error) {
	endpoint, err := url.JoinPath(c.baseURL, spec.path)
	if err != nil {
		return nil, &APIError{Kind: KindValidation, Message: err.Error(), wrapped: err}
	}

	var reader io.Reader
	if spec.body != nil {
		payload, err := json.Marshal(spec.body)
		if err != nil {
			return nil, &APIError{Kind: KindValidation, Message: err.Error(), wrapped: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, spec.method, endpoint, reader)
	if err != nil {
		return nil, &APIError{Kind: KindValidation, Message: err.Error(), wrapped: err}
	}
	req.Header.Set("Accept", "application/json")
	if spec.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	if spec.idempotent {
		req.Header.Set(idempotencyHeader, IdempotencyKeyFromContext(ctx))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, newNetworkError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, newNetworkError(err)
	}
	if resp.StatusCode >= 400 {
		return nil, newAPIError(resp.StatusCode, extractErrorMessage(raw, resp.StatusCode))
	}
	return raw, nil
}

func extractErrorMessage(raw []byte, status int) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if msg := strings.TrimSpace(envelope.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(envelope.Error); msg != "" {
			return msg
		}
	}
	if trimmed := strings.TrimSpace(string(raw)); trimmed != "" {
		return trimmed
	}
	return fmt.Sprintf("status %d", status)
}

func joinPath(segments ...string) string {
	cleaned := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(strings.TrimSpace(s), "/")
		if s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return strings.Join(cleaned, "/")
}
