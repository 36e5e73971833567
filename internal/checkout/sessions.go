package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bazaar-commerce/storefront/internal/commerce"
	"github.com/bazaar-commerce/storefront/internal/domain"
)

// EnsureSessionResult is the outcome of a provider selection.
type EnsureSessionResult struct {
	Session domain.PaymentSession
	Cart    domain.Cart
	// Deduplicated is true when an identical request was already in flight;
	// nothing was done and the caller should re-read cart state.
	Deduplicated bool
	// Reused is true when an existing pending session satisfied the request
	// without opening a new one.
	Reused bool
}

// PaymentSessionManagerDeps lists the collaborators the manager requires.
type PaymentSessionManagerDeps struct {
	API      CommerceAPI
	Registry *PendingRequestRegistry
	Logger   LogFunc
}

// PaymentSessionManager owns the payment-session lifecycle for a cart. Its
// single entry point is idempotent with respect to double invocation: repeated
// calls for the same provider converge on one pending session.
type PaymentSessionManager struct {
	api      CommerceAPI
	registry *PendingRequestRegistry
	logger   LogFunc
}

// NewPaymentSessionManager validates dependencies and builds the manager.
func NewPaymentSessionManager(deps PaymentSessionManagerDeps) (*PaymentSessionManager, error) {
	if deps.API == nil {
		return nil, errors.New("checkout: commerce api is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("checkout: request registry is required")
	}
	return &PaymentSessionManager{
		api:      deps.API,
		registry: deps.Registry,
		logger:   deps.Logger,
	}, nil
}

// EnsureSession makes the provider's session the cart's active pending session,
// creating one only when no pending session for that provider exists.
//
// The request key is released on every path, including panics, so a failed
// attempt never wedges the provider for the cart. A concurrent duplicate is
// answered with Deduplicated=true and no backend traffic.
func (m *PaymentSessionManager) EnsureSession(ctx context.Context, cart domain.Cart, providerID string, paymentCtx map[string]any) (EnsureSessionResult, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" || strings.TrimSpace(cart.ID) == "" {
		return EnsureSessionResult{}, fmt.Errorf("%w: cart id and provider id are required", ErrInvalidInput)
	}
	if cart.ShippingAddress == nil || len(cart.ShippingMethods) == 0 {
		return EnsureSessionResult{}, fmt.Errorf("%w: shipping must be completed first", ErrCartNotReady)
	}

	key := SessionKey(providerID, cart.ID)
	if !m.registry.TryAcquire(key) {
		logEvent(ctx, m.logger, "checkout.session.deduplicated", map[string]any{
			"cart_id":     cart.ID,
			"provider_id": providerID,
		})
		return EnsureSessionResult{Cart: cart, Deduplicated: true}, nil
	}
	defer m.registry.Release(key)

	// The same key doubles as the backend idempotency key, so a retry that
	// races a slow first attempt resolves to the same session server-side.
	ctx = commerce.WithIdempotencyKey(ctx, key)

	result := EnsureSessionResult{}
	if _, ok := cart.PendingSessionFor(providerID); ok {
		result.Reused = true
	} else {
		_, err := m.api.InitiatePaymentSession(ctx, cart.ID, providerID, paymentCtx)
		switch {
		case err == nil:
		case commerce.IsBenignConflict(err):
			// The backend already holds a session or collection for this
			// cart; selection below converges on it.
			logEvent(ctx, m.logger, "checkout.session.conflict_recovered", map[string]any{
				"cart_id":     cart.ID,
				"provider_id": providerID,
			})
			result.Reused = true
		default:
			return EnsureSessionResult{}, mapBackendError(err)
		}
	}

	selected, err := m.api.SelectPaymentSession(ctx, cart.ID, providerID)
	if err != nil {
		return EnsureSessionResult{}, mapBackendError(err)
	}

	session, ok := selected.PendingSessionFor(providerID)
	if !ok {
		return EnsureSessionResult{}, fmt.Errorf("%w: no pending session for provider %s after selection", ErrProviderUnavailable, providerID)
	}

	result.Session = session
	result.Cart = selected
	logEvent(ctx, m.logger, "checkout.session.ensured", map[string]any{
		"cart_id":     cart.ID,
		"provider_id": providerID,
		"session_id":  session.ID,
		"reused":      result.Reused,
	})
	return result, nil
}

// mapBackendError translates commerce error kinds onto the package sentinels
// so handlers never import the commerce error taxonomy directly.
func mapBackendError(err error) error {
	switch commerce.KindOf(err) {
	case commerce.KindValidation:
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case commerce.KindProviderUnavailable:
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	case commerce.KindNetwork:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	default:
		return err
	}
}
