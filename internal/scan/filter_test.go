package scan

import (
	"testing"

	"pricewatch/internal/parser"
	"pricewatch/internal/store"
)

func TestFilterConfig_KeywordIncludeExclude(t *testing.T) {
	cat := store.Category{
		Store:          "walmart",
		KeywordInclude: []string{"laptop"},
		KeywordExclude: []string{"refurb"},
	}
	fc := BuildFilterConfig(cat, nil, 0, nil, 0)

	if !fc.Apply(parser.Product{SKU: "A", Title: "Gaming Laptop 15in", CurrentPrice: 500}) {
		t.Fatal("expected keyword-include match to survive")
	}
	if fc.Apply(parser.Product{SKU: "B", Title: "Desktop Tower", CurrentPrice: 500}) {
		t.Fatal("expected non-matching title to be dropped")
	}
	if fc.Apply(parser.Product{SKU: "C", Title: "Refurb Laptop", CurrentPrice: 500}) {
		t.Fatal("expected keyword-exclude to win over include")
	}
}

func TestFilterConfig_PriceBounds(t *testing.T) {
	cat := store.Category{Store: "walmart", MinPrice: 10, MaxPrice: 100}
	fc := BuildFilterConfig(cat, nil, 0, nil, 0)

	if fc.Apply(parser.Product{SKU: "A", CurrentPrice: 5}) {
		t.Fatal("expected below min_price to be dropped")
	}
	if fc.Apply(parser.Product{SKU: "B", CurrentPrice: 500}) {
		t.Fatal("expected above max_price to be dropped")
	}
	if !fc.Apply(parser.Product{SKU: "C", CurrentPrice: 50}) {
		t.Fatal("expected in-range price to survive")
	}
}

func TestFilterConfig_OperatorExclusions(t *testing.T) {
	cat := store.Category{Store: "walmart"}
	exclusions := []store.ProductExclusion{
		{Kind: store.ExclusionSKU, Pattern: "BAD1", Store: "*"},
		{Kind: store.ExclusionBrand, Pattern: "Acme", Store: "walmart"},
		{Kind: store.ExclusionKeywordRegex, Pattern: "clearance", Store: "*"},
	}
	fc := BuildFilterConfig(cat, exclusions, 0, nil, 0)

	if fc.Apply(parser.Product{SKU: "BAD1", Title: "Widget", CurrentPrice: 10}) {
		t.Fatal("expected wildcard SKU exclusion to apply")
	}
	if fc.Apply(parser.Product{SKU: "OK1", Brand: "acme", Title: "Widget", CurrentPrice: 10}) {
		t.Fatal("expected store-scoped brand exclusion to match case-insensitively")
	}
	if fc.Apply(parser.Product{SKU: "OK2", Title: "Big Clearance Sale", CurrentPrice: 10}) {
		t.Fatal("expected keyword-regex exclusion to apply")
	}
	if !fc.Apply(parser.Product{SKU: "OK3", Brand: "OtherBrand", Title: "Widget", CurrentPrice: 10}) {
		t.Fatal("expected unrelated product to survive")
	}
}

func TestFilterConfig_KidsLowPriceSuppression(t *testing.T) {
	cat := store.Category{Store: "walmart", KidsExcludeSKUs: []string{"KID1"}}
	fc := BuildFilterConfig(cat, nil, 15, []string{"toddler"}, 0)

	if fc.Apply(parser.Product{SKU: "KID1", Title: "Widget", CurrentPrice: 10}) {
		t.Fatal("expected configured kids SKU to be dropped regardless of price")
	}
	if fc.Apply(parser.Product{SKU: "KID2", Title: "Toddler Shoes", CurrentPrice: 10}) {
		t.Fatal("expected low-priced kids-keyword item to be dropped")
	}
	if !fc.Apply(parser.Product{SKU: "KID3", Title: "Toddler Shoes", CurrentPrice: 50}) {
		t.Fatal("expected high-priced kids-keyword item to survive (above kids_low_price_max)")
	}
	if fc.Apply(parser.Product{SKU: "KID4", Title: "Baby Gear", CurrentPrice: 5, IsKidsItem: true}) {
		t.Fatal("expected IsKidsItem flag to also trigger suppression under the price floor")
	}
}

func TestFilterConfig_GlobalMinRetailPrice(t *testing.T) {
	cat := store.Category{Store: "walmart"}
	fc := BuildFilterConfig(cat, nil, 0, nil, 25)

	if fc.Apply(parser.Product{SKU: "A", CurrentPrice: 5, OriginalPrice: 20}) {
		t.Fatal("expected retail price below the global floor to be dropped")
	}
	if !fc.Apply(parser.Product{SKU: "B", CurrentPrice: 5, OriginalPrice: 30}) {
		t.Fatal("expected retail price at/above the global floor to survive")
	}
	if !fc.Apply(parser.Product{SKU: "C", CurrentPrice: 30}) {
		t.Fatal("expected current_price fallback when no original_price is present")
	}
}
