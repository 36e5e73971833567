package commerce

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bazaar-commerce/storefront/internal/domain"
)

type contextKey string

const idempotencyKeyContextKey contextKey = "github.com/bazaar-commerce/storefront/internal/commerce/idempotency-key"

// WithIdempotencyKey pins the idempotency key sent on mutating calls issued
// from this context. Callers that own a logical operation (session creation,
// order placement) set a deterministic key so backend retries are recognised.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	key = strings.TrimSpace(key)
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idempotencyKeyContextKey, key)
}

// IdempotencyKeyFromContext returns the pinned key, or a fresh ULID when none
// was set.
func IdempotencyKeyFromContext(ctx context.Context) string {
	if ctx != nil {
		if key, ok := ctx.Value(idempotencyKeyContextKey).(string); ok && key != "" {
			return key
		}
	}
	return "req-" + ulid.Make().String()
}

// Wire payloads. The backend's JSON shapes are decoded here and mapped onto
// domain types; nothing outside this package sees raw payload structs.

type cartEnvelope struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID                string                    `json:"id"`
	Currency          string                    `json:"currency_code"`
	Email             string                    `json:"email"`
	Items             []lineItemPayload         `json:"items"`
	ShippingAddress   *addressPayload           `json:"shipping_address"`
	ShippingMethods   []shippingMethodPayload   `json:"shipping_methods"`
	PaymentCollection *paymentCollectionPayload `json:"payment_collection"`
	ItemTotal         int64                     `json:"item_total"`
	ShippingTotal     int64                     `json:"shipping_total"`
	TaxTotal          int64                     `json:"tax_total"`
	DiscountTotal     int64                     `json:"discount_total"`
	GiftCardTotal     int64                     `json:"gift_card_total"`
	Total             int64                     `json:"total"`
	Metadata          map[string]any            `json:"metadata"`
	CreatedAt         string                    `json:"created_at"`
	UpdatedAt         string                    `json:"updated_at"`
}

type lineItemPayload struct {
	ID               string         `json:"id"`
	ProductID        string         `json:"product_id"`
	SellerID         string         `json:"seller_id"`
	Title            string         `json:"title"`
	Quantity         int            `json:"quantity"`
	UnitPrice        int64          `json:"unit_price"`
	Weight           int64          `json:"weight"`
	RequiresShipping bool           `json:"requires_shipping"`
	Metadata         map[string]any `json:"metadata"`
}

type addressPayload struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Line1       string `json:"address_1"`
	Line2       string `json:"address_2"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code"`
	Phone       string `json:"phone"`
}

type shippingMethodPayload struct {
	ID               string         `json:"id"`
	ShippingOptionID string         `json:"shipping_option_id"`
	SellerID         string         `json:"seller_id"`
	Name             string         `json:"name"`
	Amount           int64          `json:"amount"`
	Data             map[string]any `json:"data"`
}

type shippingOptionPayload struct {
	ID        string                      `json:"id"`
	SellerID  string                      `json:"seller_id"`
	Name      string                      `json:"name"`
	PriceType string                      `json:"price_type"`
	Amount    int64                       `json:"amount"`
	Rules     []shippingOptionRulePayload `json:"rules"`
	Capacity  *shippingCapacityPayload    `json:"capacity"`
}

type shippingOptionRulePayload struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

type shippingCapacityPayload struct {
	Threshold     int64 `json:"threshold"`
	OverageCharge int64 `json:"overage_charge"`
}

type paymentCollectionPayload struct {
	ID       string                  `json:"id"`
	Sessions []paymentSessionPayload `json:"payment_sessions"`
}

type paymentSessionPayload struct {
	ID         string         `json:"id"`
	ProviderID string         `json:"provider_id"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data"`
}

func (p cartPayload) toDomain() domain.Cart {
	cart := domain.Cart{
		ID:       strings.TrimSpace(p.ID),
		Currency: strings.ToUpper(strings.TrimSpace(p.Currency)),
		Email:    strings.TrimSpace(p.Email),
		Totals: domain.CartTotals{
			ItemTotal:     p.ItemTotal,
			ShippingTotal: p.ShippingTotal,
			TaxTotal:      p.TaxTotal,
			DiscountTotal: p.DiscountTotal,
			GiftCardTotal: p.GiftCardTotal,
			Total:         p.Total,
		},
		Metadata:  p.Metadata,
		CreatedAt: parseTime(p.CreatedAt),
		UpdatedAt: parseTime(p.UpdatedAt),
	}
	cart.Items = make([]domain.LineItem, 0, len(p.Items))
	for _, item := range p.Items {
		cart.Items = append(cart.Items, domain.LineItem{
			ID:               item.ID,
			ProductID:        item.ProductID,
			SellerID:         item.SellerID,
			Title:            item.Title,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			Weight:           item.Weight,
			RequiresShipping: item.RequiresShipping,
			Metadata:         item.Metadata,
		})
	}
	if p.ShippingAddress != nil {
		addr := domain.Address(*p.ShippingAddress)
		cart.ShippingAddress = &addr
	}
	cart.ShippingMethods = make([]domain.ShippingMethod, 0, len(p.ShippingMethods))
	for _, method := range p.ShippingMethods {
		cart.ShippingMethods = append(cart.ShippingMethods, domain.ShippingMethod{
			ID:               method.ID,
			ShippingOptionID: method.ShippingOptionID,
			SellerID:         method.SellerID,
			Name:             method.Name,
			Amount:           method.Amount,
			Data:             method.Data,
		})
	}
	if p.PaymentCollection != nil {
		collection := &domain.PaymentCollection{ID: p.PaymentCollection.ID}
		for _, session := range p.PaymentCollection.Sessions {
			collection.Sessions = append(collection.Sessions, session.toDomain())
		}
		cart.PaymentCollection = collection
	}
	return cart
}

func (p shippingOptionPayload) toDomain() domain.ShippingOption {
	option := domain.ShippingOption{
		ID:        p.ID,
		SellerID:  p.SellerID,
		Name:      p.Name,
		PriceType: domain.PriceType(strings.ToLower(strings.TrimSpace(p.PriceType))),
		Amount:    p.Amount,
	}
	if option.PriceType == "" {
		option.PriceType = domain.PriceTypeFlat
	}
	for _, rule := range p.Rules {
		option.Rules = append(option.Rules, domain.ShippingOptionRule{Attribute: rule.Attribute, Value: rule.Value})
	}
	if p.Capacity != nil {
		option.Capacity = &domain.ShippingCapacity{
			Threshold:     p.Capacity.Threshold,
			OverageCharge: p.Capacity.OverageCharge,
		}
	}
	return option
}

func (p paymentSessionPayload) toDomain() domain.PaymentSession {
	return domain.PaymentSession{
		ID:         strings.TrimSpace(p.ID),
		ProviderID: strings.TrimSpace(p.ProviderID),
		Status:     domain.PaymentSessionStatus(strings.ToLower(strings.TrimSpace(p.Status))),
		Data:       p.Data,
	}
}

// orderFromPayload extracts the typed order from a placement response. The raw
// payload is kept by the caller because some providers encode a redirect here.
func orderFromPayload(payload map[string]any, cartID string) domain.Order {
	order := domain.Order{CartID: cartID}
	raw, ok := payload["order"].(map[string]any)
	if !ok {
		if id, ok := payload["order_id"].(string); ok {
			order.ID = strings.TrimSpace(id)
		}
		return order
	}
	if id, ok := raw["id"].(string); ok {
		order.ID = strings.TrimSpace(id)
	}
	if currency, ok := raw["currency_code"].(string); ok {
		order.Currency = strings.ToUpper(strings.TrimSpace(currency))
	}
	switch total := raw["total"].(type) {
	case float64:
		order.Total = int64(total)
	case int64:
		order.Total = total
	}
	if created, ok := raw["created_at"].(string); ok {
		order.CreatedAt = parseTime(created)
	}
	return order
}

func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}
