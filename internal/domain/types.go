package domain

import (
	"sort"
	"strings"
	"time"
)

// PriceType describes how a shipping option's amount is determined.
type PriceType string

const (
	// PriceTypeFlat means the amount is known without any quote call.
	PriceTypeFlat PriceType = "flat"
	// PriceTypeCalculated means the amount requires a quote request against the commerce API.
	PriceTypeCalculated PriceType = "calculated"
)

// PaymentSessionStatus enumerates the lifecycle states of a payment session.
type PaymentSessionStatus string

const (
	// SessionStatusPending indicates the session awaits customer action or provider confirmation.
	SessionStatusPending PaymentSessionStatus = "pending"
	// SessionStatusAuthorized indicates the provider authorized the payment.
	SessionStatusAuthorized PaymentSessionStatus = "authorized"
	// SessionStatusCanceled indicates the session was abandoned or replaced.
	SessionStatusCanceled PaymentSessionStatus = "canceled"
	// SessionStatusError indicates the provider reported a terminal failure.
	SessionStatusError PaymentSessionStatus = "error"
)

// Address captures the shipping destination attached to a cart.
type Address struct {
	FirstName   string
	LastName    string
	Line1       string
	Line2       string
	City        string
	PostalCode  string
	CountryCode string
	Phone       string
}

// LineItem stores a single purchasable entry within a cart. Every item belongs
// to exactly one seller; capacity-relevant weight is expressed in grams.
type LineItem struct {
	ID               string
	ProductID        string
	SellerID         string
	Title            string
	Quantity         int
	UnitPrice        int64
	Weight           int64
	RequiresShipping bool
	Metadata         map[string]any
}

// ShippingOptionRule is a single attribute/value constraint declared on an option.
type ShippingOptionRule struct {
	Attribute string
	Value     string
}

// ShippingCapacity declares the load covered by an option's base amount and the
// flat surcharge applied once the cart's aggregate weight exceeds the threshold.
type ShippingCapacity struct {
	Threshold     int64
	OverageCharge int64
}

// ShippingOption is a seller-scoped delivery offering available to a cart.
type ShippingOption struct {
	ID        string
	SellerID  string
	Name      string
	PriceType PriceType
	// Amount is the flat price, or the base amount for calculated options.
	Amount   int64
	Rules    []ShippingOptionRule
	Capacity *ShippingCapacity
}

// IsReturnOnly reports whether the option is restricted to return shipments.
func (o ShippingOption) IsReturnOnly() bool {
	for _, rule := range o.Rules {
		if strings.EqualFold(rule.Attribute, "is_return") && strings.EqualFold(rule.Value, "true") {
			return true
		}
	}
	return false
}

// ShippingMethod binds a ShippingOption to a cart for one seller. The amount is
// the single source of truth (base plus any overage pre-summed server-side).
type ShippingMethod struct {
	ID               string
	ShippingOptionID string
	SellerID         string
	Name             string
	Amount           int64
	Data             map[string]any
}

// PaymentSession represents one attempt to pay via a provider. Data is the
// opaque provider payload and may carry a redirect URL under various keys.
type PaymentSession struct {
	ID         string
	ProviderID string
	Status     PaymentSessionStatus
	Data       map[string]any
}

// PaymentCollection groups the payment sessions opened against a cart.
// A cart holds at most one collection.
type PaymentCollection struct {
	ID       string
	Sessions []PaymentSession
}

// CartTotals summarizes the server-derived totals; clients never recompute these.
type CartTotals struct {
	ItemTotal     int64
	ShippingTotal int64
	TaxTotal      int64
	DiscountTotal int64
	GiftCardTotal int64
	Total         int64
}

// Cart is the aggregate root mutated by every checkout step. All totals and
// readiness signals are authoritative on the server; after each mutation the
// orchestrator re-fetches rather than patching locally.
type Cart struct {
	ID                string
	Currency          string
	Email             string
	Items             []LineItem
	ShippingAddress   *Address
	ShippingMethods   []ShippingMethod
	PaymentCollection *PaymentCollection
	Totals            CartTotals
	Metadata          map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SellerIDs returns the distinct seller ids represented by the cart's shippable
// items, sorted for deterministic iteration.
func (c Cart) SellerIDs() []string {
	seen := make(map[string]struct{})
	for _, item := range c.Items {
		id := strings.TrimSpace(item.SellerID)
		if id == "" || !item.RequiresShipping {
			continue
		}
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Weight returns the aggregate shippable weight of the cart's contents.
func (c Cart) WeightForSeller(sellerID string) int64 {
	var total int64
	for _, item := range c.Items {
		if !item.RequiresShipping || !strings.EqualFold(item.SellerID, sellerID) {
			continue
		}
		total += item.Weight * int64(item.Quantity)
	}
	return total
}

// MethodForSeller returns the cart's shipping method bound for the seller, if any.
func (c Cart) MethodForSeller(sellerID string) (ShippingMethod, bool) {
	for _, method := range c.ShippingMethods {
		if strings.EqualFold(method.SellerID, sellerID) {
			return method, true
		}
	}
	return ShippingMethod{}, false
}

// PendingSessionFor returns the pending payment session for the provider, if one exists.
func (c Cart) PendingSessionFor(providerID string) (PaymentSession, bool) {
	if c.PaymentCollection == nil {
		return PaymentSession{}, false
	}
	want := strings.TrimSpace(providerID)
	for _, session := range c.PaymentCollection.Sessions {
		if strings.EqualFold(session.ProviderID, want) && session.Status == SessionStatusPending {
			return session, true
		}
	}
	return PaymentSession{}, false
}

// ActiveSession returns the first pending session across providers.
func (c Cart) ActiveSession() (PaymentSession, bool) {
	if c.PaymentCollection == nil {
		return PaymentSession{}, false
	}
	for _, session := range c.PaymentCollection.Sessions {
		if session.Status == SessionStatusPending {
			return session, true
		}
	}
	return PaymentSession{}, false
}

// PaymentReady reports whether the cart may proceed to order placement: a
// shipping address, at least one shipping method, and either an active payment
// session or full gift-card coverage (grand total zero).
func (c Cart) PaymentReady() bool {
	if c.ShippingAddress == nil || len(c.ShippingMethods) == 0 {
		return false
	}
	if c.Totals.Total == 0 {
		return true
	}
	_, ok := c.ActiveSession()
	return ok
}

// Order is the terminal artifact of a successful placement.
type Order struct {
	ID        string
	CartID    string
	Currency  string
	Total     int64
	CreatedAt time.Time
}
