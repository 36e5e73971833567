package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bazaar-commerce/storefront/internal/domain"
)

// quoteConcurrency bounds parallel quote calls per listing render.
const quoteConcurrency = 4

// PricedShippingOption pairs an option with its resolved amount for this cart.
// Amount is the display total; Overage is the portion attributable to the
// capacity surcharge and is informational only.
type PricedShippingOption struct {
	Option  domain.ShippingOption
	Amount  int64
	Overage int64
	// Quoted marks amounts obtained from a calculation call rather than
	// read off the option itself.
	Quoted bool
}

// SellerOptionGroup is the shipping choice presented for one seller.
type SellerOptionGroup struct {
	SellerID string
	Options  []PricedShippingOption
	// Selected is the method currently bound for this seller, if any.
	Selected *domain.ShippingMethod
}

// ShippingOptionListing is the full shipping step view for a cart.
type ShippingOptionListing struct {
	Groups []SellerOptionGroup
	// MissingSellers lists sellers whose items require shipping but for whom
	// the backend offers no usable option. Checkout cannot proceed while
	// this is non-empty.
	MissingSellers []string
}

// Complete reports whether every seller group has a bound method and no seller
// is missing options.
func (l ShippingOptionListing) Complete() bool {
	if len(l.MissingSellers) > 0 {
		return false
	}
	for _, group := range l.Groups {
		if group.Selected == nil {
			return false
		}
	}
	return len(l.Groups) > 0
}

// ShippingMethodSelectorDeps lists the collaborators a selector requires.
type ShippingMethodSelectorDeps struct {
	API    CommerceAPI
	Quotes *PriceCalculationCache
	Logger LogFunc
}

// ShippingMethodSelector drives the shipping step: it groups options per
// seller, resolves calculated prices through the quote cache, and applies
// method selection and removal against the backend.
type ShippingMethodSelector struct {
	api    CommerceAPI
	quotes *PriceCalculationCache
	logger LogFunc
}

// NewShippingMethodSelector validates dependencies and builds the selector.
func NewShippingMethodSelector(deps ShippingMethodSelectorDeps) (*ShippingMethodSelector, error) {
	if deps.API == nil {
		return nil, errors.New("checkout: commerce api is required")
	}
	if deps.Quotes == nil {
		return nil, errors.New("checkout: price cache is required")
	}
	return &ShippingMethodSelector{
		api:    deps.API,
		quotes: deps.Quotes,
		logger: deps.Logger,
	}, nil
}

// ListOptions assembles the shipping step view: options grouped per seller in
// deterministic order, return-only options filtered out, calculated prices
// resolved through the quote cache, and sellers with no offering reported.
func (s *ShippingMethodSelector) ListOptions(ctx context.Context, cart domain.Cart) (ShippingOptionListing, error) {
	if strings.TrimSpace(cart.ID) == "" {
		return ShippingOptionListing{}, fmt.Errorf("%w: cart id is required", ErrInvalidInput)
	}

	options, err := s.api.ListShippingOptions(ctx, cart.ID)
	if err != nil {
		return ShippingOptionListing{}, err
	}

	bySeller := make(map[string][]domain.ShippingOption)
	var calculatedIDs []string
	for _, option := range options {
		if option.IsReturnOnly() {
			continue
		}
		bySeller[option.SellerID] = append(bySeller[option.SellerID], option)
		if option.PriceType == domain.PriceTypeCalculated {
			calculatedIDs = append(calculatedIDs, option.ID)
		}
	}

	quoted := map[string]int64{}
	if len(calculatedIDs) > 0 {
		quoted, err = s.quotes.GetOrCompute(ctx, cart.ID, calculatedIDs, s.quoteBatch(cart.ID))
		if err != nil {
			return ShippingOptionListing{}, err
		}
	}

	listing := ShippingOptionListing{}
	for _, sellerID := range cart.SellerIDs() {
		sellerOptions, ok := bySeller[sellerID]
		if !ok || len(sellerOptions) == 0 {
			listing.MissingSellers = append(listing.MissingSellers, sellerID)
			continue
		}
		sort.Slice(sellerOptions, func(i, j int) bool { return sellerOptions[i].Name < sellerOptions[j].Name })

		group := SellerOptionGroup{SellerID: sellerID}
		for _, option := range sellerOptions {
			priced := PricedShippingOption{Option: option, Amount: option.Amount}
			if option.PriceType == domain.PriceTypeCalculated {
				priced.Amount = quoted[option.ID]
				priced.Quoted = true
			}
			if option.Capacity != nil && cart.WeightForSeller(sellerID) > option.Capacity.Threshold {
				priced.Overage = option.Capacity.OverageCharge
				priced.Amount += option.Capacity.OverageCharge
			}
			group.Options = append(group.Options, priced)
		}
		if method, ok := cart.MethodForSeller(sellerID); ok {
			selected := method
			group.Selected = &selected
		}
		listing.Groups = append(listing.Groups, group)
	}

	logEvent(ctx, s.logger, "checkout.shipping.listed", map[string]any{
		"cart_id":         cart.ID,
		"sellers":         len(listing.Groups),
		"missing_sellers": len(listing.MissingSellers),
	})
	return listing, nil
}

// quoteBatch fans quote calls out concurrently; any failure aborts the batch
// so that nothing partial is cached.
func (s *ShippingMethodSelector) quoteBatch(cartID string) func(context.Context, []string) (map[string]int64, error) {
	return func(ctx context.Context, optionIDs []string) (map[string]int64, error) {
		var mu sync.Mutex
		amounts := make(map[string]int64, len(optionIDs))

		group, ctx := errgroup.WithContext(ctx)
		group.SetLimit(quoteConcurrency)
		for _, optionID := range optionIDs {
			group.Go(func() error {
				amount, err := s.api.CalculateShippingOptionPrice(ctx, optionID, cartID)
				if err != nil {
					return fmt.Errorf("quote option %s: %w", optionID, err)
				}
				mu.Lock()
				amounts[optionID] = amount
				mu.Unlock()
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
		return amounts, nil
	}
}

// SelectMethod binds the option to the cart. The backend replaces any prior
// method for the same seller and recomputes totals; the returned cart is the
// re-derived state.
func (s *ShippingMethodSelector) SelectMethod(ctx context.Context, cartID, optionID string) (domain.Cart, error) {
	if strings.TrimSpace(cartID) == "" || strings.TrimSpace(optionID) == "" {
		return domain.Cart{}, fmt.Errorf("%w: cart id and option id are required", ErrInvalidInput)
	}
	cart, err := s.api.SetShippingMethod(ctx, cartID, optionID)
	if err != nil {
		return domain.Cart{}, err
	}
	logEvent(ctx, s.logger, "checkout.shipping.selected", map[string]any{
		"cart_id":   cartID,
		"option_id": optionID,
	})
	return cart, nil
}

// RemoveMethod unbinds a shipping method, drops the cart's cached quotes, and
// returns the re-fetched cart.
func (s *ShippingMethodSelector) RemoveMethod(ctx context.Context, cartID, methodID string) (domain.Cart, error) {
	if strings.TrimSpace(cartID) == "" || strings.TrimSpace(methodID) == "" {
		return domain.Cart{}, fmt.Errorf("%w: cart id and method id are required", ErrInvalidInput)
	}
	if err := s.api.RemoveShippingMethod(ctx, methodID); err != nil {
		return domain.Cart{}, err
	}
	s.quotes.InvalidateCart(cartID)
	cart, err := s.api.GetCart(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	logEvent(ctx, s.logger, "checkout.shipping.removed", map[string]any{
		"cart_id":   cartID,
		"method_id": methodID,
	})
	return cart, nil
}

// Breakdown reconstructs the base/overage split of a bound method for display.
// The method amount is authoritative; the split subtracts the option's known
// surcharge when the cart tripped it.
func Breakdown(cart domain.Cart, method domain.ShippingMethod, option domain.ShippingOption) (base, overage int64) {
	if option.Capacity == nil {
		return method.Amount, 0
	}
	if cart.WeightForSeller(method.SellerID) <= option.Capacity.Threshold {
		return method.Amount, 0
	}
	overage = option.Capacity.OverageCharge
	if overage > method.Amount {
		overage = method.Amount
	}
	return method.Amount - overage, overage
}
