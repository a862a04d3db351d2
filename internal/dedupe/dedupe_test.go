package dedupe

import (
	"context"
	"testing"
	"time"

	"pricewatch/internal/kv"
)

func TestNormalizeKey_ASINLikeSKU(t *testing.T) {
	if got := NormalizeKey("B09AAA1234", ""); got != "asin:B09AAA1234" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeKey_ASINFromURL(t *testing.T) {
	if got := NormalizeKey("not-asin-shaped", "https://amazon.com/dp/B09AAA1234/ref=foo"); got != "asin:B09AAA1234" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeKey_FallsBackToRawSKU(t *testing.T) {
	if got := NormalizeKey("WM-12345", "https://walmart.com/ip/12345"); got != "sku:WM-12345" {
		t.Fatalf("got %q", got)
	}
}

func TestEvaluate_S6_CrossSourceSuppression(t *testing.T) {
	d := New(kv.NewMemoryStore(), 10*time.Minute, []string{"slickdeals", "saveyourdeals", "woot"})
	ctx := context.Background()

	dec, err := d.Evaluate(ctx, Observation{SKU: "B09AAA1234", Store: "slickdeals", Price: 29.99})
	if err != nil {
		t.Fatal(err)
	}
	if dec != DecisionNotify {
		t.Fatalf("first sighting: decision = %v, want notify", dec)
	}

	dec, err = d.Evaluate(ctx, Observation{SKU: "B09AAA1234", Store: "saveyourdeals", Price: 29.99})
	if err != nil {
		t.Fatal(err)
	}
	if dec != DecisionSuppress {
		t.Fatalf("same price, different source: decision = %v, want suppress", dec)
	}

	dec, err = d.Evaluate(ctx, Observation{SKU: "B09AAA1234", Store: "woot", Price: 24.99})
	if err != nil {
		t.Fatal(err)
	}
	if dec != DecisionNotify {
		t.Fatalf("strictly lower price: decision = %v, want notify", dec)
	}
}

func TestEvaluate_HigherPriceSuppressed(t *testing.T) {
	d := New(kv.NewMemoryStore(), 10*time.Minute, nil)
	ctx := context.Background()
	if _, err := d.Evaluate(ctx, Observation{SKU: "B09AAA1234", Store: "a", Price: 10}); err != nil {
		t.Fatal(err)
	}
	dec, err := d.Evaluate(ctx, Observation{SKU: "B09AAA1234", Store: "b", Price: 15})
	if err != nil {
		t.Fatal(err)
	}
	if dec != DecisionSuppress {
		t.Fatalf("higher price: decision = %v, want suppress", dec)
	}
}

func TestApplies_RespectsConfiguredAggregatorSet(t *testing.T) {
	d := New(kv.NewMemoryStore(), time.Minute, []string{"woot"})
	if !d.Applies("WOOT") {
		t.Fatal("expected case-insensitive match")
	}
	if d.Applies("amazon_us") {
		t.Fatal("amazon_us should not be treated as an aggregator")
	}
}
