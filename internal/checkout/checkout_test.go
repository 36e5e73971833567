package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/bazaar-commerce/storefront/internal/commerce"
	"github.com/bazaar-commerce/storefront/internal/domain"
	"github.com/bazaar-commerce/storefront/internal/events"
)

func benignConflictErr(t *testing.T) error {
	t.Helper()
	return &commerce.APIError{
		Kind:    commerce.KindSessionConflict,
		Message: "cart already has a payment collection",
		Status:  409,
	}
}

var errUnexpectedCall = errors.New("unexpected commerce api call")

type stubCommerceAPI struct {
	getCartFunc        func(ctx context.Context, cartID string) (domain.Cart, error)
	listOptionsFunc    func(ctx context.Context, cartID string) ([]domain.ShippingOption, error)
	setMethodFunc      func(ctx context.Context, cartID, optionID string) (domain.Cart, error)
	removeMethodFunc   func(ctx context.Context, methodID string) error
	calculatePriceFunc func(ctx context.Context, optionID, cartID string) (int64, error)
	initiateFunc       func(ctx context.Context, cartID, providerID string, paymentCtx map[string]any) (domain.PaymentSession, error)
	selectFunc         func(ctx context.Context, cartID, providerID string) (domain.Cart, error)
	authorizeFunc      func(ctx context.Context, sessionID string, authCtx map[string]any) (map[string]any, error)
	placeOrderFunc     func(ctx context.Context, cartID string) (domain.Order, map[string]any, error)
}

func (s *stubCommerceAPI) GetCart(ctx context.Context, cartID string) (domain.Cart, error) {
	if s.getCartFunc == nil {
		return domain.Cart{}, errUnexpectedCall
	}
	return s.getCartFunc(ctx, cartID)
}

func (s *stubCommerceAPI) ListShippingOptions(ctx context.Context, cartID string) ([]domain.ShippingOption, error) {
	if s.listOptionsFunc == nil {
		return nil, errUnexpectedCall
	}
	return s.listOptionsFunc(ctx, cartID)
}

func (s *stubCommerceAPI) SetShippingMethod(ctx context.Context, cartID, optionID string) (domain.Cart, error) {
	if s.setMethodFunc == nil {
		return domain.Cart{}, errUnexpectedCall
	}
	return s.setMethodFunc(ctx, cartID, optionID)
}

func (s *stubCommerceAPI) RemoveShippingMethod(ctx context.Context, methodID string) error {
	if s.removeMethodFunc == nil {
		return errUnexpectedCall
	}
	return s.removeMethodFunc(ctx, methodID)
}

func (s *stubCommerceAPI) CalculateShippingOptionPrice(ctx context.Context, optionID, cartID string) (int64, error) {
	if s.calculatePriceFunc == nil {
		return 0, errUnexpectedCall
	}
	return s.calculatePriceFunc(ctx, optionID, cartID)
}

func (s *stubCommerceAPI) InitiatePaymentSession(ctx context.Context, cartID, providerID string, paymentCtx map[string]any) (domain.PaymentSession, error) {
	if s.initiateFunc == nil {
		return domain.PaymentSession{}, errUnexpectedCall
	}
	return s.initiateFunc(ctx, cartID, providerID, paymentCtx)
}

func (s *stubCommerceAPI) SelectPaymentSession(ctx context.Context, cartID, providerID string) (domain.Cart, error) {
	if s.selectFunc == nil {
		return domain.Cart{}, errUnexpectedCall
	}
	return s.selectFunc(ctx, cartID, providerID)
}

func (s *stubCommerceAPI) AuthorizePaymentSession(ctx context.Context, sessionID string, authCtx map[string]any) (map[string]any, error) {
	if s.authorizeFunc == nil {
		return nil, errUnexpectedCall
	}
	return s.authorizeFunc(ctx, sessionID, authCtx)
}

func (s *stubCommerceAPI) PlaceOrder(ctx context.Context, cartID string) (domain.Order, map[string]any, error) {
	if s.placeOrderFunc == nil {
		return domain.Order{}, nil, errUnexpectedCall
	}
	return s.placeOrderFunc(ctx, cartID)
}

type stubEventPublisher struct {
	published []events.CheckoutEvent
	err       error
}

func (p *stubEventPublisher) PublishCheckoutEvent(_ context.Context, event events.CheckoutEvent) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.published = append(p.published, event)
	return "msg-1", nil
}

func testAddress() *domain.Address {
	return &domain.Address{
		FirstName:   "Nadia",
		Line1:       "12 Market Row",
		City:        "Krakow",
		PostalCode:  "30-001",
		CountryCode: "pl",
	}
}

// paymentReadyCart builds a cart with address, one bound method and a pending
// session, ready for submission.
func paymentReadyCart(cartID, providerID string) domain.Cart {
	return domain.Cart{
		ID:       cartID,
		Currency: "PLN",
		Items: []domain.LineItem{
			{ID: "item-1", SellerID: "seller-a", Quantity: 1, UnitPrice: 5000, Weight: 400, RequiresShipping: true},
		},
		ShippingAddress: testAddress(),
		ShippingMethods: []domain.ShippingMethod{
			{ID: "sm-1", ShippingOptionID: "so-1", SellerID: "seller-a", Name: "Courier", Amount: 1200},
		},
		PaymentCollection: &domain.PaymentCollection{
			ID: "paycol-1",
			Sessions: []domain.PaymentSession{
				{ID: "ps-1", ProviderID: providerID, Status: domain.SessionStatusPending},
			},
		},
		Totals: domain.CartTotals{ItemTotal: 5000, ShippingTotal: 1200, Total: 6200},
	}
}
