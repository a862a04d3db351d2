// Package genericld is a reference Extractor built on the schema.org
// JSON-LD fallback the parser package exposes. It reads only JSON-LD nodes
// whose @type is Product (bare or inside an @graph array); the entries of
// an ItemList block are not unpacked. Any store whose listing pages embed
// Product nodes works with this one implementation, without a
// hand-written adapter per site.
package genericld

import (
	"regexp"
	"strconv"
	"strings"

	"pricewatch/internal/parser"
)

var nextLinkPattern = regexp.MustCompile(`(?is)<link[^>]+rel=["']next["'][^>]+href=["']([^"']+)["']`)

// Extractor turns JSON-LD Product blocks into parser.Product rows and
// follows a standard <link rel="next"> pagination hint, if present.
type Extractor struct{}

// New constructs a genericld.Extractor.
func New() Extractor {
	return Extractor{}
}

func (Extractor) Extract(pageURL, body string) ([]parser.Product, string, error) {
	nodes, err := parser.JSONLDProducts(body)
	if err != nil {
		return nil, "", err
	}

	products := make([]parser.Product, 0, len(nodes))
	for _, n := range nodes {
		p, ok := productFromNode(n)
		if ok {
			products = append(products, p)
		}
	}

	next := ""
	if m := nextLinkPattern.FindStringSubmatch(body); m != nil {
		next = m[1]
	}
	return products, next, nil
}

func productFromNode(n map[string]any) (parser.Product, bool) {
	sku := stringField(n, "sku")
	if sku == "" {
		sku = stringField(n, "productID")
	}
	url := stringField(n, "url")
	if sku == "" || url == "" {
		return parser.Product{}, false
	}

	p := parser.Product{
		SKU:      sku,
		URL:      url,
		Title:    stringField(n, "name"),
		ImageURL: stringField(n, "image"),
		Brand:    brandFromNode(n),
		InStock:  true,
	}

	if offers, ok := n["offers"].(map[string]any); ok {
		p.CurrentPrice = priceField(offers, "price")
		p.Currency = stringField(offers, "priceCurrency")
		if avail, ok := offers["availability"].(string); ok {
			p.InStock = !strings.Contains(strings.ToLower(avail), "outofstock")
		}
		if hp, ok := offers["highPrice"]; ok {
			p.OriginalPrice = toFloat(hp)
		}
	}

	return p, true
}

func stringField(n map[string]any, key string) string {
	v, ok := n[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

func brandFromNode(n map[string]any) string {
	switch b := n["brand"].(type) {
	case string:
		return b
	case map[string]any:
		return stringField(b, "name")
	default:
		return ""
	}
}

func priceField(n map[string]any, key string) float64 {
	v, ok := n[key]
	if !ok {
		return 0
	}
	return toFloat(v)
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
