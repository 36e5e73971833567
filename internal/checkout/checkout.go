package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/bazaar-commerce/storefront/internal/domain"
)

// Sentinel errors surfaced by the checkout components. Handlers map these onto
// HTTP statuses; everything else bubbles up as an internal failure.
var (
	// ErrInvalidInput marks a request rejected before any backend call.
	ErrInvalidInput = errors.New("checkout: invalid input")
	// ErrCartNotReady marks a cart missing the shipping state a payment step requires.
	ErrCartNotReady = errors.New("checkout: cart not ready for payment")
	// ErrProviderUnavailable marks a payment provider the backend refuses for this cart.
	ErrProviderUnavailable = errors.New("checkout: payment provider unavailable")
	// ErrSubmissionInFlight marks a duplicate submit while a redirect or placement is pending.
	ErrSubmissionInFlight = errors.New("checkout: submission already in progress")
	// ErrBackendUnavailable marks transport-level failures against the commerce API.
	ErrBackendUnavailable = errors.New("checkout: commerce backend unavailable")
	// ErrNoRedirectPending marks a redirect return for a cart with no stored marker.
	ErrNoRedirectPending = errors.New("checkout: no redirect pending")
	// ErrPaymentNotCompleted marks a redirect return where the provider did not confirm payment.
	ErrPaymentNotCompleted = errors.New("checkout: payment not completed")
)

// CommerceAPI is the slice of the commerce backend the checkout flow depends
// on. The concrete implementation lives in internal/commerce.
type CommerceAPI interface {
	GetCart(ctx context.Context, cartID string) (domain.Cart, error)
	ListShippingOptions(ctx context.Context, cartID string) ([]domain.ShippingOption, error)
	SetShippingMethod(ctx context.Context, cartID, shippingOptionID string) (domain.Cart, error)
	RemoveShippingMethod(ctx context.Context, shippingMethodID string) error
	CalculateShippingOptionPrice(ctx context.Context, shippingOptionID, cartID string) (int64, error)
	InitiatePaymentSession(ctx context.Context, cartID, providerID string, paymentCtx map[string]any) (domain.PaymentSession, error)
	SelectPaymentSession(ctx context.Context, cartID, providerID string) (domain.Cart, error)
	AuthorizePaymentSession(ctx context.Context, sessionID string, authCtx map[string]any) (map[string]any, error)
	PlaceOrder(ctx context.Context, cartID string) (domain.Order, map[string]any, error)
}

// LogFunc receives structured checkout events. Components treat a nil hook as
// logging disabled.
type LogFunc func(ctx context.Context, event string, fields map[string]any)

// CartListener observes every re-derived cart after a successful mutation.
type CartListener func(ctx context.Context, cart domain.Cart)

func defaultClock() time.Time { return time.Now().UTC() }

func normalizeClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		return defaultClock
	}
	return func() time.Time { return clock().UTC() }
}

func logEvent(ctx context.Context, hook LogFunc, event string, fields map[string]any) {
	if hook == nil {
		return
	}
	hook(ctx, event, fields)
}
