package observability

import (
	"testing"
)

func TestParseCloudTraceHeader(t *testing.T) {
	spanCtx, ok := parseCloudTraceHeader("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if got := spanCtx.TraceID().String(); got != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %q", got)
	}
	if got := spanCtx.SpanID().String(); got != "0000000000000001" {
		t.Fatalf("unexpected span id %q", got)
	}
	if !spanCtx.IsSampled() {
		t.Fatalf("expected sampled flag")
	}
	if !spanCtx.IsRemote() {
		t.Fatalf("expected remote span context")
	}
}

func TestParseCloudTraceHeaderUnsampled(t *testing.T) {
	spanCtx, ok := parseCloudTraceHeader("105445aa7843bc8bf206b12000100000/42")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if spanCtx.IsSampled() {
		t.Fatalf("expected unsampled span context")
	}
}

func TestParseCloudTraceHeaderRejectsMalformed(t *testing.T) {
	for _, header := range []string{
		"",
		"not-a-trace",
		"105445aa7843bc8bf206b12000100000",
		"shorttrace/1;o=1",
		"105445aa7843bc8bf206b12000100000/not-a-span",
		"105445aa7843bc8bf206b12000100000/0",
	} {
		if _, ok := parseCloudTraceHeader(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}
