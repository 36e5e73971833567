package money

import (
	"strings"
	"testing"
)

func TestFormatFallsBackForUnknownCurrency(t *testing.T) {
	got := Format(1234, "ZZ1", "en")
	if got != "12.34 ZZ1" {
		t.Fatalf("unexpected fallback rendering %q", got)
	}
}

func TestFormatRendersKnownCurrency(t *testing.T) {
	got := Format(6200, "PLN", "en")
	if got == "" {
		t.Fatalf("expected non-empty rendering")
	}
	if !strings.Contains(got, "62") {
		t.Fatalf("expected major units in rendering, got %q", got)
	}
}

func TestFormatToleratesBadLocale(t *testing.T) {
	got := Format(500, "USD", "not a locale")
	if got == "" {
		t.Fatalf("expected non-empty rendering")
	}
	if !strings.Contains(got, "5") {
		t.Fatalf("expected amount in rendering, got %q", got)
	}
}
