package checkout

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v78"
)

// blankRedirect is emitted by some providers as a placeholder; it means "no
// redirect", never a navigation target.
const blankRedirect = "about:blank"

// RedirectOutcome is the result of probing a provider payload. Exactly one of
// URL or OrderID is set when the payload was conclusive; both empty means the
// payload carried neither signal.
type RedirectOutcome struct {
	URL string
	// OrderID is set when the payload carries a terminal order and no
	// redirect target.
	OrderID string
	// Source names the extractor that produced the URL, for logging.
	Source string
}

// Redirect reports whether the customer must be sent off-site.
func (o RedirectOutcome) Redirect() bool { return o.URL != "" }

// Confirmed reports whether the payload resolved to a placed order.
func (o RedirectOutcome) Confirmed() bool { return o.OrderID != "" }

type redirectExtractor struct {
	name string
	fn   func(payload map[string]any) string
}

// PaymentRedirectResolver normalizes the provider-specific encodings of "go
// here to finish paying" into a single outcome. Extractors run in declaration
// order and the first hit wins: the flat key sweep, then its nested data
// variant, then the provider-specific shapes.
type PaymentRedirectResolver struct {
	extractors []redirectExtractor
	logger     LogFunc
}

// RedirectResolverDeps configures a PaymentRedirectResolver.
type RedirectResolverDeps struct {
	Logger LogFunc
	// Extra extractors run after the built-in list.
	Extra []func(payload map[string]any) string
}

// NewPaymentRedirectResolver builds the resolver with the built-in extractor chain.
func NewPaymentRedirectResolver(deps RedirectResolverDeps) *PaymentRedirectResolver {
	resolver := &PaymentRedirectResolver{logger: deps.Logger}
	resolver.extractors = []redirectExtractor{
		{name: "known_keys", fn: knownKeyExtractor},
		{name: "nested_data", fn: nestedDataExtractor},
		{name: "payu_data", fn: payuRedirectExtractor},
		{name: "stripe_next_action", fn: stripeNextActionExtractor},
	}
	for i, fn := range deps.Extra {
		if fn == nil {
			continue
		}
		resolver.extractors = append(resolver.extractors, redirectExtractor{name: "extra_" + strconv.Itoa(i), fn: fn})
	}
	return resolver
}

// Resolve probes the payload for a redirect URL, falling back to a terminal
// order id only when no extractor produces one. A payload carrying both
// signals still owes the customer the external payment step.
func (r *PaymentRedirectResolver) Resolve(ctx context.Context, payload map[string]any) RedirectOutcome {
	if len(payload) == 0 {
		return RedirectOutcome{}
	}
	for _, extractor := range r.extractors {
		raw := extractor.fn(payload)
		url := normalizeRedirectURL(raw)
		if url == "" {
			continue
		}
		logEvent(ctx, r.logger, "checkout.redirect.resolved", map[string]any{
			"source": extractor.name,
		})
		return RedirectOutcome{URL: url, Source: extractor.name}
	}
	if orderID := terminalOrderID(payload); orderID != "" {
		return RedirectOutcome{OrderID: orderID}
	}
	return RedirectOutcome{}
}

// normalizeRedirectURL trims the candidate and discards placeholders.
func normalizeRedirectURL(raw string) string {
	url := strings.TrimSpace(raw)
	if url == "" || strings.EqualFold(url, blankRedirect) {
		return ""
	}
	return url
}

// terminalOrderID returns a placed order id when the payload carries one.
func terminalOrderID(payload map[string]any) string {
	if id, ok := payload["order_id"].(string); ok && strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id)
	}
	if order, ok := payload["order"].(map[string]any); ok {
		if id, ok := order["id"].(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return ""
}

// knownKeyExtractor sweeps the flat keys providers have been observed to use.
func knownKeyExtractor(payload map[string]any) string {
	for _, key := range []string{"redirect_url", "redirectUrl", "redirectUri", "redirect_uri", "checkout_url"} {
		if url, ok := payload[key].(string); ok && url != "" {
			return url
		}
	}
	return ""
}

// nestedDataExtractor applies the flat key sweep one level down, where several
// providers wrap their session payload.
func nestedDataExtractor(payload map[string]any) string {
	nested, ok := payload["data"].(map[string]any)
	if !ok {
		return ""
	}
	if url := knownKeyExtractor(nested); url != "" {
		return url
	}
	return payuRedirectExtractor(nested)
}

// payuRedirectExtractor handles the PayU session shape, which nests the
// navigation target under payu_data.
func payuRedirectExtractor(payload map[string]any) string {
	data, ok := payload["payu_data"].(map[string]any)
	if !ok {
		return ""
	}
	if url, ok := data["redirectUri"].(string); ok && url != "" {
		return url
	}
	if url, ok := data["redirectUrl"].(string); ok {
		return url
	}
	return ""
}

// stripeNextActionExtractor decodes the payload as a Stripe payment intent and
// follows next_action.redirect_to_url. Payloads that do not round-trip through
// the Stripe shape simply yield nothing.
func stripeNextActionExtractor(payload map[string]any) string {
	candidate := payload
	if nested, ok := payload["data"].(map[string]any); ok {
		if _, hasAction := nested["next_action"]; hasAction {
			candidate = nested
		}
	}
	if _, ok := candidate["next_action"]; !ok {
		return ""
	}
	raw, err := json.Marshal(candidate)
	if err != nil {
		return ""
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return ""
	}
	if intent.NextAction == nil || intent.NextAction.RedirectToURL == nil {
		return ""
	}
	return intent.NextAction.RedirectToURL.URL
}
