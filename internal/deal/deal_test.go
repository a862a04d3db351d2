package deal

import "testing"

func almostEqual(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func TestDetect_S1_StrikethroughDeal(t *testing.T) {
	cfg := Config{MinDiscountPercent: 35, MSRPThreshold: 0.65, MinPrice: 0, MaxPrice: 1e6}
	d, ok := Detect(Product{SKU: "B0TEST", CurrentPrice: 49.99, OriginalPrice: 199.99}, cfg)
	if !ok {
		t.Fatal("expected a deal")
	}
	if !almostEqual(d.DiscountPercent, 75.0, 0.1) {
		t.Fatalf("discount = %v, want ~75.0", d.DiscountPercent)
	}
	if d.Method != MethodStrikethrough {
		t.Fatalf("method = %v, want strikethrough", d.Method)
	}
	if !almostEqual(d.Confidence, 0.80, 0.001) {
		t.Fatalf("confidence = %v, want 0.80", d.Confidence)
	}
}

func TestDetect_S2_MSRPPathOnly(t *testing.T) {
	cfg := Config{MinDiscountPercent: 35, MSRPThreshold: 0.65, MinPrice: 0, MaxPrice: 1e6}
	d, ok := Detect(Product{SKU: "B0TEST2", CurrentPrice: 60.00, MSRP: 100.00}, cfg)
	if !ok {
		t.Fatal("expected a deal")
	}
	if !almostEqual(d.DiscountPercent, 40.0, 0.01) {
		t.Fatalf("discount = %v, want 40", d.DiscountPercent)
	}
	if d.Method != MethodMSRP {
		t.Fatalf("method = %v, want msrp", d.Method)
	}
	if !almostEqual(d.Confidence, 0.60, 0.001) {
		t.Fatalf("confidence = %v, want 0.60", d.Confidence)
	}
}

func TestDetect_BothSignalsFireCombinedMethod(t *testing.T) {
	cfg := Config{MinDiscountPercent: 35, MSRPThreshold: 0.65, MinPrice: 0, MaxPrice: 1e6}
	d, ok := Detect(Product{SKU: "B0TEST3", CurrentPrice: 30, OriginalPrice: 100, MSRP: 120}, cfg)
	if !ok {
		t.Fatal("expected a deal")
	}
	if d.Method != MethodCombined {
		t.Fatalf("method = %v, want combined", d.Method)
	}
	if d.Confidence < 0.1 || d.Confidence > 1.0 {
		t.Fatalf("confidence = %v out of range", d.Confidence)
	}
}

func TestDetect_SkipsBelowMinPrice(t *testing.T) {
	cfg := Config{MinDiscountPercent: 10, MinPrice: 20, MaxPrice: 1e6}
	_, ok := Detect(Product{SKU: "X", CurrentPrice: 5, OriginalPrice: 50}, cfg)
	if ok {
		t.Fatal("expected no deal below min_price")
	}
}

func TestDetect_NoDealWhenDiscountBelowThreshold(t *testing.T) {
	cfg := Config{MinDiscountPercent: 50, MinPrice: 0, MaxPrice: 1e6}
	_, ok := Detect(Product{SKU: "X", CurrentPrice: 90, OriginalPrice: 100}, cfg)
	if ok {
		t.Fatal("expected no deal: 10% discount below 50% threshold")
	}
}

func TestDetect_SuspiciousAboveNinetyFivePercentLowersConfidence(t *testing.T) {
	cfg := Config{MinDiscountPercent: 10, MinPrice: 0, MaxPrice: 1e6}
	d, ok := Detect(Product{SKU: "X", CurrentPrice: 1, OriginalPrice: 100}, cfg)
	if !ok {
		t.Fatal("expected a deal")
	}
	// 0.5 - 0.10 (>95 penalty) + 0.15 (strikethrough) = 0.55
	if !almostEqual(d.Confidence, 0.55, 0.001) {
		t.Fatalf("confidence = %v, want 0.55", d.Confidence)
	}
}

func TestTable_Resolve_SubstringFallback(t *testing.T) {
	table := Table{Defaults: []CategoryDefault{
		{NameLower: "electronics", Config: Config{MinDiscountPercent: 35, MSRPThreshold: 0.65, MaxPrice: 1e6}},
	}}
	cfg := table.Resolve("Electronics & Computers", "walmart")
	if cfg.MinDiscountPercent != 35 {
		t.Fatalf("min_discount = %v, want 35 via substring fallback", cfg.MinDiscountPercent)
	}
}

func TestTable_Resolve_StoreMultiplierScalesThreshold(t *testing.T) {
	table := Table{
		Defaults:    []CategoryDefault{{NameLower: "toys", Config: Config{MinDiscountPercent: 20, MaxPrice: 1e6}}},
		StoreScales: map[string]float64{"alwaysonsale": 1.5},
	}
	cfg := table.Resolve("toys", "alwaysonsale")
	if !almostEqual(cfg.MinDiscountPercent, 30, 0.01) {
		t.Fatalf("min_discount = %v, want 30 after 1.5x store scale", cfg.MinDiscountPercent)
	}
}

func TestDetect_S1_StrikethroughDeal_IsSignificantAndLikelyError(t *testing.T) {
	cfg := Config{MinDiscountPercent: 35, MSRPThreshold: 0.65, MinPrice: 0, MaxPrice: 1e6}
	d, ok := Detect(Product{SKU: "B0TEST", CurrentPrice: 49.99, OriginalPrice: 199.99}, cfg)
	if !ok {
		t.Fatal("expected a deal")
	}
	if !d.IsSignificant() {
		t.Fatal("expected significant: discount>=40 and confidence>=0.6")
	}
	if !d.IsLikelyError() {
		t.Fatal("expected likely_error: discount>=70 and confidence>=0.8")
	}
}

func TestDetect_S2_MSRPPathOnly_SignificantButNotLikelyError(t *testing.T) {
	cfg := Config{MinDiscountPercent: 35, MSRPThreshold: 0.65, MinPrice: 0, MaxPrice: 1e6}
	d, ok := Detect(Product{SKU: "B0TEST2", CurrentPrice: 60.00, MSRP: 100.00}, cfg)
	if !ok {
		t.Fatal("expected a deal")
	}
	if !d.IsSignificant() {
		t.Fatal("40% discount at 0.60 confidence is significant")
	}
	if d.IsLikelyError() {
		t.Fatal("single signal at 40% discount should not be a likely price error")
	}
}

func TestDetect_S3_BothSignals_TwoOrMoreSignalsAtSixtyIsLikelyError(t *testing.T) {
	cfg := Config{MinDiscountPercent: 35, MSRPThreshold: 0.65, MinPrice: 0, MaxPrice: 1e6}
	d, ok := Detect(Product{SKU: "B0TEST3", CurrentPrice: 30, OriginalPrice: 100, MSRP: 120}, cfg)
	if !ok {
		t.Fatal("expected a deal")
	}
	if len(d.Signals) != 2 {
		t.Fatalf("signals = %v, want both strikethrough and msrp", d.Signals)
	}
	if !d.IsLikelyError() {
		t.Fatal("2 signals at >=60% discount should be a likely price error")
	}
}

func TestDetectBatch_SortsByDiscountDescendingAndAppliesGlobalFloor(t *testing.T) {
	cfg := Config{MinDiscountPercent: 10, MinPrice: 0, MaxPrice: 1e6}
	products := []Product{
		{SKU: "low", CurrentPrice: 90, OriginalPrice: 100},  // 10%
		{SKU: "high", CurrentPrice: 20, OriginalPrice: 100}, // 80%
	}
	deals := DetectBatch(products, cfg, 50)
	if len(deals) != 1 || deals[0].SKU != "high" {
		t.Fatalf("deals = %+v, want only 'high' to survive 50%% global floor", deals)
	}
}
