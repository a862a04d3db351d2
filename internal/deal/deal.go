// Package deal implements deal detection: classify a fetched
// product as a price-drop or price-error candidate under
// category-parameterised thresholds, and score a confidence for it.
package deal

import (
	"sort"
	"strings"
)

// Method is how a Deal was detected.
type Method string

const (
	MethodStrikethrough Method = "strikethrough"
	MethodMSRP          Method = "msrp"
	MethodCombined      Method = "combined"
)

// Product is the minimal shape the detector needs from a parsed listing.
type Product struct {
	SKU           string
	Title         string
	CurrentPrice  float64
	OriginalPrice float64
	MSRP          float64
}

// Deal is a detected price anomaly.
type Deal struct {
	SKU             string
	Title           string
	CurrentPrice    float64
	OriginalPrice   float64
	DiscountPercent float64
	Method          Method
	Confidence      float64
	Signals         []Method // the set of detection methods that fired, per the DetectedDeal entity
}

// IsSignificant implements the DetectedDeal entity's significance
// invariant: discount_percent >= 40 and confidence >= 0.6.
func (d Deal) IsSignificant() bool {
	return d.DiscountPercent >= 40 && d.Confidence >= 0.6
}

// IsLikelyError implements the DetectedDeal entity's price-error
// invariant: (discount >= 70 and confidence >= 0.8) or (>=2 signals and
// discount >= 60).
func (d Deal) IsLikelyError() bool {
	if d.DiscountPercent >= 70 && d.Confidence >= 0.8 {
		return true
	}
	return len(d.Signals) >= 2 && d.DiscountPercent >= 60
}

// Config parameterises detection for one category/store combination.
type Config struct {
	MinDiscountPercent float64
	MSRPThreshold      float64 // ratio: current/msrp must be <= this
	MinPrice           float64
	MaxPrice           float64
}

// CategoryDefault is one row of the per-category threshold table.
type CategoryDefault struct {
	NameLower string // matched by exact lowercase name, then substring fallback
	Config    Config
}

// StoreAdjustment scales a store's min_discount_percent, for stores that
// run near-permanent promotions and need a higher bar to count as a deal.
type StoreAdjustment struct {
	Store      string
	Multiplier float64
}

// Table resolves a Config from a category name and store tag.
type Table struct {
	Defaults    []CategoryDefault
	GlobalMin   float64 // global_min_discount floor applied by the caller
	StoreScales map[string]float64
}

// Resolve finds the Config for categoryName, applying a store-specific
// min-discount multiplier if one is configured.
func (t Table) Resolve(categoryName, store string) Config {
	lower := strings.ToLower(categoryName)
	cfg := Config{MinDiscountPercent: 20, MSRPThreshold: 0.7, MinPrice: 0, MaxPrice: 1e9}

	matched := false
	for _, d := range t.Defaults {
		if d.NameLower == lower {
			cfg = d.Config
			matched = true
			break
		}
	}
	if !matched {
		for _, d := range t.Defaults {
			if strings.Contains(lower, d.NameLower) {
				cfg = d.Config
				break
			}
		}
	}

	if mult, ok := t.StoreScales[store]; ok && mult > 0 {
		cfg.MinDiscountPercent *= mult
	}
	return cfg
}

// Detect classifies one product against cfg's thresholds. It
// returns ok=false if the product is not a deal under cfg.
func Detect(p Product, cfg Config) (Deal, bool) {
	if p.CurrentPrice <= 0 || p.CurrentPrice < cfg.MinPrice || p.CurrentPrice > cfg.MaxPrice {
		return Deal{}, false
	}

	var strikeDiscount float64
	var strikeFired bool
	if p.OriginalPrice > p.CurrentPrice {
		strikeDiscount = (1 - p.CurrentPrice/p.OriginalPrice) * 100
		if strikeDiscount >= cfg.MinDiscountPercent {
			strikeFired = true
		}
	}

	var msrpDiscount float64
	var msrpFired bool
	threshold := cfg.MSRPThreshold
	if threshold <= 0 {
		threshold = 0.7
	}
	if p.MSRP > 0 && p.CurrentPrice < p.MSRP && p.CurrentPrice/p.MSRP <= threshold {
		msrpDiscount = (1 - p.CurrentPrice/p.MSRP) * 100
		msrpFired = true
	}

	if !strikeFired && !msrpFired {
		return Deal{}, false
	}

	// Pick the candidate with the larger discount_percent for display and
	// for the reported Method; confidence itself is scored independently
	// below from which reference prices the product actually carries.
	pickedMethod := MethodStrikethrough
	discount := strikeDiscount
	if msrpFired && (!strikeFired || msrpDiscount > strikeDiscount) {
		pickedMethod = MethodMSRP
		discount = msrpDiscount
	}

	confidence := confidenceFor(discount, p.OriginalPrice > 0, p.MSRP > 0)

	var signals []Method
	if strikeFired {
		signals = append(signals, MethodStrikethrough)
	}
	if msrpFired {
		signals = append(signals, MethodMSRP)
	}

	method := pickedMethod
	if strikeFired && msrpFired {
		method = MethodCombined
		confidence += 0.15
		if confidence > 1.0 {
			confidence = 1.0
		}
	}

	originalForDisplay := p.OriginalPrice
	if originalForDisplay <= 0 {
		originalForDisplay = p.MSRP
	}

	return Deal{
		SKU:             p.SKU,
		Title:           p.Title,
		CurrentPrice:    p.CurrentPrice,
		OriginalPrice:   originalForDisplay,
		DiscountPercent: discount,
		Method:          method,
		Confidence:      confidence,
		Signals:         signals,
	}, true
}

// confidenceFor scores a candidate discount, independently crediting
// hasStrikethrough/hasMSRP for each reference price the product actually
// carries, not just whichever signal ended up picked as the larger
// discount. A product with both an original_price and an msrp gets both
// bonuses.
func confidenceFor(discount float64, hasStrikethrough, hasMSRP bool) float64 {
	confidence := 0.5

	switch {
	case discount >= 50 && discount <= 70:
		confidence += 0.2
	case discount > 70 && discount <= 85:
		confidence += 0.15
	case discount > 85 && discount <= 95:
		confidence += 0.10
	case discount > 95:
		confidence -= 0.10
	}

	if hasStrikethrough {
		confidence += 0.15
	}
	if hasMSRP {
		confidence += 0.10
	}

	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < 0.1 {
		confidence = 0.1
	}
	return confidence
}

// DetectBatch runs Detect over products, keeping survivors whose discount
// meets the higher of cfg.MinDiscountPercent and globalMinDiscount, sorted
// by discount percent descending.
func DetectBatch(products []Product, cfg Config, globalMinDiscount float64) []Deal {
	floor := cfg.MinDiscountPercent
	if globalMinDiscount > floor {
		floor = globalMinDiscount
	}

	var deals []Deal
	for _, p := range products {
		d, ok := Detect(p, cfg)
		if !ok || d.DiscountPercent < floor {
			continue
		}
		deals = append(deals, d)
	}
	sort.Slice(deals, func(i, j int) bool {
		return deals[i].DiscountPercent > deals[j].DiscountPercent
	})
	return deals
}
