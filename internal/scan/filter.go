package scan

import (
	"regexp"
	"strings"

	"pricewatch/internal/parser"
	"pricewatch/internal/store"
)

// FilterConfig carries every configured content filter applied to one
// category's products, combining the category's own rules with the
// global ones (kids-item suppression, minimum retail price) and the
// operator-managed exclusion rows.
type FilterConfig struct {
	KeywordInclude []*regexp.Regexp
	KeywordExclude []*regexp.Regexp
	BrandInclude   []string
	BrandExclude   []string
	MinPrice       float64
	MaxPrice       float64

	Exclusions []store.ProductExclusion // both wildcard and store-scoped rows
	Store      string

	KidsLowPriceMax     float64
	KidsExcludeKeywords []*regexp.Regexp
	KidsExcludeSKUs     map[string]bool

	GlobalMinRetailPrice float64
}

// BuildFilterConfig compiles a category's keyword/brand lists and the
// operator exclusion rows into a ready-to-apply FilterConfig. Malformed
// regexes are dropped rather than failing the category.
func BuildFilterConfig(cat store.Category, exclusions []store.ProductExclusion, kidsLowPriceMax float64, kidsExcludeKeywords []string, globalMinRetailPrice float64) FilterConfig {
	fc := FilterConfig{
		KeywordInclude:       compileAll(cat.KeywordInclude),
		KeywordExclude:       compileAll(cat.KeywordExclude),
		BrandInclude:         lowerAll(cat.BrandInclude),
		BrandExclude:         lowerAll(cat.BrandExclude),
		MinPrice:             cat.MinPrice,
		MaxPrice:             cat.MaxPrice,
		Exclusions:           exclusions,
		Store:                cat.Store,
		KidsLowPriceMax:      kidsLowPriceMax,
		KidsExcludeKeywords:  compileAll(kidsExcludeKeywords),
		KidsExcludeSKUs:      toSKUSet(cat.KidsExcludeSKUs),
		GlobalMinRetailPrice: globalMinRetailPrice,
	}
	return fc
}

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			continue // malformed exclusion regex, skipped
		}
		out = append(out, re)
	}
	return out
}

func lowerAll(xs []string) []string {
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if x != "" {
			out = append(out, strings.ToLower(x))
		}
	}
	return out
}

func toSKUSet(xs []string) map[string]bool {
	set := make(map[string]bool, len(xs))
	for _, x := range xs {
		set[x] = true
	}
	return set
}

func matchesAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func brandMatches(brands []string, brand string) bool {
	lower := strings.ToLower(brand)
	for _, b := range brands {
		if b == lower {
			return true
		}
	}
	return false
}

// retailPrice resolves the global min-retail-price check,
// consulting original_price, then msrp, then current_price in that order
// — parser.Product carries original_price but not msrp, so a zero
// OriginalPrice falls through to CurrentPrice directly.
func retailPrice(p parser.Product) float64 {
	if p.OriginalPrice > 0 {
		return p.OriginalPrice
	}
	return p.CurrentPrice
}

func exclusionMatches(rule store.ProductExclusion, re *regexp.Regexp, p parser.Product, store_ string) bool {
	if rule.Store != "*" && rule.Store != store_ {
		return false
	}
	switch rule.Kind {
	case store.ExclusionSKU:
		return p.SKU == rule.Pattern
	case store.ExclusionBrand:
		return strings.EqualFold(p.Brand, rule.Pattern)
	case store.ExclusionKeywordRegex:
		return re != nil && re.MatchString(p.Title)
	default:
		return false
	}
}

// Apply runs one product through every configured filter, returning false
// if it should be dropped.
func (fc FilterConfig) Apply(p parser.Product) bool {
	if len(fc.KeywordInclude) > 0 && !matchesAny(fc.KeywordInclude, p.Title) {
		return false
	}
	if matchesAny(fc.KeywordExclude, p.Title) {
		return false
	}
	if len(fc.BrandInclude) > 0 && !brandMatches(fc.BrandInclude, p.Brand) {
		return false
	}
	if brandMatches(fc.BrandExclude, p.Brand) {
		return false
	}
	if fc.MinPrice > 0 && p.CurrentPrice < fc.MinPrice {
		return false
	}
	if fc.MaxPrice > 0 && p.CurrentPrice > fc.MaxPrice {
		return false
	}

	for _, rule := range fc.Exclusions {
		var re *regexp.Regexp
		if rule.Kind == store.ExclusionKeywordRegex {
			re, _ = regexp.Compile("(?i)" + rule.Pattern)
		}
		if exclusionMatches(rule, re, p, fc.Store) {
			return false
		}
	}

	if fc.KidsExcludeSKUs[p.SKU] {
		return false
	}
	if p.CurrentPrice <= fc.KidsLowPriceMax && (p.IsKidsItem || matchesAny(fc.KidsExcludeKeywords, p.Title)) {
		return false
	}

	if fc.GlobalMinRetailPrice > 0 && retailPrice(p) < fc.GlobalMinRetailPrice {
		return false
	}

	return true
}

// ApplyAll filters a batch of products in place order, returning only the
// survivors.
func (fc FilterConfig) ApplyAll(products []parser.Product) []parser.Product {
	out := make([]parser.Product, 0, len(products))
	for _, p := range products {
		if fc.Apply(p) {
			out = append(out, p)
		}
	}
	return out
}
