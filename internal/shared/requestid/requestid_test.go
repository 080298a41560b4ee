package requestid

import (
	"context"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	ctx := With(context.Background(), "abc")
	if got := Get(ctx); got != "abc" {
		t.Fatalf("expected %q, got %q", "abc", got)
	}
	if got := Attr(ctx).Value.String(); got != "abc" {
		t.Fatalf("expected attr value %q, got %q", "abc", got)
	}
	if got := Get(context.Background()); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}
