// Package parser defines the external contract every site adapter
// implements: turn a fetched page body into product records and, for
// listing pages, a next-page URL. Adapters live outside this package;
// Registry only routes by store name.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Product is one listing extracted from a page.
type Product struct {
	SKU           string
	Title         string
	URL           string
	CurrentPrice  float64
	OriginalPrice float64 // 0 if the page shows no strikethrough/MSRP
	Currency      string
	InStock       bool
	ImageURL      string
	Brand         string
	IsKidsItem    bool
}

// Extractor turns one fetched page into products and, for a listing page,
// the URL of the next page (empty string if none).
type Extractor interface {
	// Extract parses body (already triaged as OK_HTML or OK_JSON) fetched
	// from pageURL and returns the products found plus the next listing
	// page URL, if any.
	Extract(pageURL string, body string) (products []Product, nextPageURL string, err error)
}

// Registry maps a store name to its Extractor.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register installs ext under store, replacing any prior registration.
func (r *Registry) Register(store string, ext Extractor) {
	r.extractors[store] = ext
}

// Get returns the Extractor for store, or an error if none is registered.
func (r *Registry) Get(store string) (Extractor, error) {
	ext, ok := r.extractors[store]
	if !ok {
		return nil, fmt.Errorf("parser: no extractor registered for store %q", store)
	}
	return ext, nil
}

// Extract routes to the registered extractor for store, then drops any
// product with an empty SKU or URL: a listing without the two keys that
// identify and revisit a product is not data.
func (r *Registry) Extract(store, pageURL, body string) ([]Product, string, error) {
	ext, err := r.Get(store)
	if err != nil {
		return nil, "", err
	}
	products, next, err := ext.Extract(pageURL, body)
	if err != nil {
		return nil, "", err
	}
	filtered := make([]Product, 0, len(products))
	for _, p := range products {
		if p.SKU == "" || p.URL == "" {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered, next, nil
}

var jsonLDPattern = regexp.MustCompile(`(?s)<script[^>]*type=["']application/ld\+json["'][^>]*>(.*?)</script>`)

// JSONLDProducts is a fallback helper adapters can call when a page embeds
// schema.org Product data in a JSON-LD block instead of (or in addition to)
// its own markup. It tolerates both a bare object and an @graph array.
func JSONLDProducts(body string) ([]map[string]any, error) {
	matches := jsonLDPattern.FindAllStringSubmatch(body, -1)
	var out []map[string]any
	for _, m := range matches {
		raw := strings.TrimSpace(m[1])
		var doc any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue // one malformed block shouldn't sink the whole page
		}
		switch v := doc.(type) {
		case map[string]any:
			if graph, ok := v["@graph"].([]any); ok {
				for _, g := range graph {
					if obj, ok := g.(map[string]any); ok && isProductType(obj) {
						out = append(out, obj)
					}
				}
				continue
			}
			if isProductType(v) {
				out = append(out, v)
			}
		case []any:
			for _, g := range v {
				if obj, ok := g.(map[string]any); ok && isProductType(obj) {
					out = append(out, obj)
				}
			}
		}
	}
	return out, nil
}

func isProductType(obj map[string]any) bool {
	t, ok := obj["@type"].(string)
	if !ok {
		return false
	}
	return strings.EqualFold(t, "Product")
}
