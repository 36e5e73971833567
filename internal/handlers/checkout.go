package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bazaar-commerce/storefront/internal/checkout"
	"github.com/bazaar-commerce/storefront/internal/domain"
	"github.com/bazaar-commerce/storefront/internal/platform/httpx"
	"github.com/bazaar-commerce/storefront/internal/platform/money"
)

// CheckoutService is the surface the HTTP layer needs from the orchestrator.
type CheckoutService interface {
	LoadCart(ctx context.Context, cartID string) (checkout.CartView, error)
	ShippingOptions(ctx context.Context, cartID string) (checkout.CartView, checkout.ShippingOptionListing, error)
	SelectShipping(ctx context.Context, cartID, optionID string) (checkout.CartView, error)
	RemoveShipping(ctx context.Context, cartID, methodID string) (checkout.CartView, error)
	SelectPaymentProvider(ctx context.Context, cartID, providerID string, paymentCtx map[string]any) (checkout.EnsureSessionResult, error)
	Submit(ctx context.Context, cartID string) (checkout.SubmitResult, error)
	Resume(ctx context.Context, cartID string, query url.Values) (checkout.SubmitResult, error)
}

const maxCheckoutBodySize = 16 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

// CheckoutHandlers exposes the checkout endpoints backed by the orchestrator.
type CheckoutHandlers struct {
	service CheckoutService
	locale  string
}

// NewCheckoutHandlers constructs handlers rendering amounts in the given locale.
func NewCheckoutHandlers(service CheckoutService, locale string) *CheckoutHandlers {
	if strings.TrimSpace(locale) == "" {
		locale = "en"
	}
	return &CheckoutHandlers{
		service: service,
		locale:  locale,
	}
}

// Routes wires the checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{cartID}", h.getCart)
	r.Get("/{cartID}/shipping-options", h.listShippingOptions)
	r.Post("/{cartID}/shipping-methods", h.selectShipping)
	r.Delete("/{cartID}/shipping-methods/{methodID}", h.removeShipping)
	r.Post("/{cartID}/payment-sessions", h.selectProvider)
	r.Post("/{cartID}/submit", h.submit)
	r.Get("/{cartID}/resume", h.resume)
}

func (h *CheckoutHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID, ok := h.requireCartID(ctx, w, r)
	if !ok {
		return
	}

	view, err := h.service.LoadCart(ctx, cartID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: h.buildCartPayload(view)})
}

func (h *CheckoutHandlers) listShippingOptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID, ok := h.requireCartID(ctx, w, r)
	if !ok {
		return
	}

	view, listing, err := h.service.ShippingOptions(ctx, cartID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, shippingOptionsResponse{
		Cart:     h.buildCartPayload(view),
		Shipping: h.buildShippingPayload(view.Cart, listing),
	})
}

func (h *CheckoutHandlers) selectShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID, ok := h.requireCartID(ctx, w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req selectShippingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON payload: %v", err), http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.OptionID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "optionId is required", http.StatusBadRequest))
		return
	}

	view, err := h.service.SelectShipping(ctx, cartID, req.OptionID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: h.buildCartPayload(view)})
}

func (h *CheckoutHandlers) removeShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID, ok := h.requireCartID(ctx, w, r)
	if !ok {
		return
	}
	methodID := strings.TrimSpace(chi.URLParam(r, "methodID"))
	if methodID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shipping method id is required", http.StatusBadRequest))
		return
	}

	view, err := h.service.RemoveShipping(ctx, cartID, methodID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: h.buildCartPayload(view)})
}

func (h *CheckoutHandlers) selectProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID, ok := h.requireCartID(ctx, w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req selectProviderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON payload: %v", err), http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.ProviderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "providerId is required", http.StatusBadRequest))
		return
	}

	result, err := h.service.SelectPaymentProvider(ctx, cartID, req.ProviderID, req.Context)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	payload := providerResponse{
		Cart:         h.buildCartPayload(checkout.CartView{Cart: result.Cart, Step: checkout.StepForCart(result.Cart)}),
		Reused:       result.Reused,
		Deduplicated: result.Deduplicated,
	}
	if result.Session.ID != "" {
		payload.Session = &sessionPayload{
			ID:         result.Session.ID,
			ProviderID: result.Session.ProviderID,
			Status:     string(result.Session.Status),
		}
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID, ok := h.requireCartID(ctx, w, r)
	if !ok {
		return
	}

	result, err := h.service.Submit(ctx, cartID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, h.buildSubmitPayload(result))
}

func (h *CheckoutHandlers) resume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID, ok := h.requireCartID(ctx, w, r)
	if !ok {
		return
	}

	result, err := h.service.Resume(ctx, cartID, r.URL.Query())
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, h.buildSubmitPayload(result))
}

func (h *CheckoutHandlers) requireCartID(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	cartID := strings.TrimSpace(chi.URLParam(r, "cartID"))
	if cartID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart id is required", http.StatusBadRequest))
		return "", false
	}
	return cartID, true
}

type selectShippingRequest struct {
	OptionID string `json:"optionId"`
}

type selectProviderRequest struct {
	ProviderID string         `json:"providerId"`
	Context    map[string]any `json:"context"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type shippingOptionsResponse struct {
	Cart     cartPayload     `json:"cart"`
	Shipping shippingPayload `json:"shipping"`
}

type providerResponse struct {
	Cart         cartPayload     `json:"cart"`
	Session      *sessionPayload `json:"session,omitempty"`
	Reused       bool            `json:"reused"`
	Deduplicated bool            `json:"deduplicated"`
}

type cartPayload struct {
	ID              string                 `json:"id"`
	Currency        string                 `json:"currency"`
	Email           string                 `json:"email,omitempty"`
	Step            string                 `json:"step"`
	Items           []lineItemPayload      `json:"items"`
	ShippingAddress *addressPayload        `json:"shippingAddress,omitempty"`
	ShippingMethods []shippingMethodInfo   `json:"shippingMethods"`
	Totals          totalsPayload          `json:"totals"`
	UpdatedAt       string                 `json:"updatedAt,omitempty"`
}

type lineItemPayload struct {
	ID               string `json:"id"`
	ProductID        string `json:"productId"`
	SellerID         string `json:"sellerId"`
	Title            string `json:"title"`
	Quantity         int    `json:"quantity"`
	UnitPrice        int64  `json:"unitPrice"`
	UnitPriceDisplay string `json:"unitPriceDisplay"`
	RequiresShipping bool   `json:"requiresShipping"`
}

type addressPayload struct {
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Line1       string `json:"line1"`
	Line2       string `json:"line2,omitempty"`
	City        string `json:"city"`
	PostalCode  string `json:"postalCode"`
	CountryCode string `json:"countryCode"`
}

type shippingMethodInfo struct {
	ID            string `json:"id"`
	OptionID      string `json:"optionId"`
	SellerID      string `json:"sellerId"`
	Name          string `json:"name"`
	Amount        int64  `json:"amount"`
	AmountDisplay string `json:"amountDisplay"`
}

type totalsPayload struct {
	ItemTotal     int64  `json:"itemTotal"`
	ShippingTotal int64  `json:"shippingTotal"`
	TaxTotal      int64  `json:"taxTotal"`
	DiscountTotal int64  `json:"discountTotal"`
	GiftCardTotal int64  `json:"giftCardTotal"`
	Total         int64  `json:"total"`
	TotalDisplay  string `json:"totalDisplay"`
}

type shippingPayload struct {
	Groups         []sellerGroupPayload `json:"groups"`
	MissingSellers []string             `json:"missingSellers,omitempty"`
	Complete       bool                 `json:"complete"`
}

type sellerGroupPayload struct {
	SellerID string                `json:"sellerId"`
	Selected *shippingMethodInfo   `json:"selected,omitempty"`
	Options  []shippingOptionInfo  `json:"options"`
}

type shippingOptionInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Amount        int64  `json:"amount"`
	AmountDisplay string `json:"amountDisplay"`
	Overage       int64  `json:"overage,omitempty"`
	Quoted        bool   `json:"quoted,omitempty"`
}

type sessionPayload struct {
	ID         string `json:"id"`
	ProviderID string `json:"providerId"`
	Status     string `json:"status"`
}

type submitPayload struct {
	State       string        `json:"state"`
	RedirectURL string        `json:"redirectUrl,omitempty"`
	Order       *orderPayload `json:"order,omitempty"`
}

type orderPayload struct {
	ID           string `json:"id"`
	CartID       string `json:"cartId"`
	Currency     string `json:"currency,omitempty"`
	Total        int64  `json:"total"`
	TotalDisplay string `json:"totalDisplay,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
}

func (h *CheckoutHandlers) buildCartPayload(view checkout.CartView) cartPayload {
	cart := view.Cart
	payload := cartPayload{
		ID:              cart.ID,
		Currency:        cart.Currency,
		Email:           cart.Email,
		Step:            string(view.Step),
		Items:           make([]lineItemPayload, 0, len(cart.Items)),
		ShippingMethods: make([]shippingMethodInfo, 0, len(cart.ShippingMethods)),
		Totals: totalsPayload{
			ItemTotal:     cart.Totals.ItemTotal,
			ShippingTotal: cart.Totals.ShippingTotal,
			TaxTotal:      cart.Totals.TaxTotal,
			DiscountTotal: cart.Totals.DiscountTotal,
			GiftCardTotal: cart.Totals.GiftCardTotal,
			Total:         cart.Totals.Total,
			TotalDisplay:  h.formatAmount(cart.Totals.Total, cart.Currency),
		},
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = cart.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if cart.ShippingAddress != nil {
		payload.ShippingAddress = &addressPayload{
			FirstName:   cart.ShippingAddress.FirstName,
			LastName:    cart.ShippingAddress.LastName,
			Line1:       cart.ShippingAddress.Line1,
			Line2:       cart.ShippingAddress.Line2,
			City:        cart.ShippingAddress.City,
			PostalCode:  cart.ShippingAddress.PostalCode,
			CountryCode: cart.ShippingAddress.CountryCode,
		}
	}
	for _, item := range cart.Items {
		payload.Items = append(payload.Items, lineItemPayload{
			ID:               item.ID,
			ProductID:        item.ProductID,
			SellerID:         item.SellerID,
			Title:            item.Title,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			UnitPriceDisplay: h.formatAmount(item.UnitPrice, cart.Currency),
			RequiresShipping: item.RequiresShipping,
		})
	}
	for _, method := range cart.ShippingMethods {
		payload.ShippingMethods = append(payload.ShippingMethods, h.buildMethodInfo(method, cart.Currency))
	}
	return payload
}

func (h *CheckoutHandlers) buildShippingPayload(cart domain.Cart, listing checkout.ShippingOptionListing) shippingPayload {
	payload := shippingPayload{
		Groups:         make([]sellerGroupPayload, 0, len(listing.Groups)),
		MissingSellers: listing.MissingSellers,
		Complete:       listing.Complete(),
	}
	for _, group := range listing.Groups {
		entry := sellerGroupPayload{
			SellerID: group.SellerID,
			Options:  make([]shippingOptionInfo, 0, len(group.Options)),
		}
		if group.Selected != nil {
			info := h.buildMethodInfo(*group.Selected, cart.Currency)
			entry.Selected = &info
		}
		for _, option := range group.Options {
			entry.Options = append(entry.Options, shippingOptionInfo{
				ID:            option.Option.ID,
				Name:          option.Option.Name,
				Amount:        option.Amount,
				AmountDisplay: h.formatAmount(option.Amount, cart.Currency),
				Overage:       option.Overage,
				Quoted:        option.Quoted,
			})
		}
		payload.Groups = append(payload.Groups, entry)
	}
	return payload
}

func (h *CheckoutHandlers) buildMethodInfo(method domain.ShippingMethod, currency string) shippingMethodInfo {
	return shippingMethodInfo{
		ID:            method.ID,
		OptionID:      method.ShippingOptionID,
		SellerID:      method.SellerID,
		Name:          method.Name,
		Amount:        method.Amount,
		AmountDisplay: h.formatAmount(method.Amount, currency),
	}
}

func (h *CheckoutHandlers) buildSubmitPayload(result checkout.SubmitResult) submitPayload {
	payload := submitPayload{
		State:       result.State,
		RedirectURL: result.RedirectURL,
	}
	if result.Order.ID != "" {
		order := orderPayload{
			ID:       result.Order.ID,
			CartID:   result.Order.CartID,
			Currency: result.Order.Currency,
			Total:    result.Order.Total,
		}
		if result.Order.Currency != "" {
			order.TotalDisplay = h.formatAmount(result.Order.Total, result.Order.Currency)
		}
		if !result.Order.CreatedAt.IsZero() {
			order.CreatedAt = result.Order.CreatedAt.UTC().Format(time.RFC3339)
		}
		payload.Order = &order
	}
	return payload
}

func (h *CheckoutHandlers) formatAmount(amount int64, currency string) string {
	if currency == "" {
		return ""
	}
	return money.Format(amount, currency, h.locale)
}

// writeCheckoutError maps orchestrator sentinels onto the JSON error envelope.
func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checkout.ErrInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, checkout.ErrCartNotReady):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_ready", err.Error(), http.StatusConflict))
	case errors.Is(err, checkout.ErrSubmissionInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("submission_in_flight", err.Error(), http.StatusConflict))
	case errors.Is(err, checkout.ErrNoRedirectPending):
		httpx.WriteError(ctx, w, httpx.NewError("no_redirect_pending", err.Error(), http.StatusNotFound))
	case errors.Is(err, checkout.ErrPaymentNotCompleted):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_completed", err.Error(), http.StatusPaymentRequired))
	case errors.Is(err, checkout.ErrProviderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("provider_unavailable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, checkout.ErrBackendUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("commerce_unavailable", err.Error(), http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxCheckoutBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
