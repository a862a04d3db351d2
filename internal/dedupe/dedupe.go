// Package dedupe implements cross-source deduplication: collapse the
// same physical product reported by multiple aggregator sites into a
// single notify/suppress decision, keyed by a short-TTL KV record.
package dedupe

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pricewatch/internal/kv"
)

// Decision is the outcome of evaluating one observation.
type Decision string

const (
	DecisionNotify   Decision = "notify"
	DecisionSuppress Decision = "suppress"
)

// Observation is one aggregator sighting of a product.
type Observation struct {
	SKU   string
	Store string
	Price float64
	URL   string
}

var (
	asinLikeSKU = regexp.MustCompile(`^[A-Za-z0-9]{10}$`)
	asinInURL   = regexp.MustCompile(`(?:/dp/|/product/|/gp/product/)([A-Za-z0-9]{10})`)
)

// Deduper tracks cross-source product records for a configured set of
// aggregator stores.
type Deduper struct {
	store       kv.Store
	ttl         time.Duration
	aggregators map[string]bool
}

// New constructs a Deduper. aggregators lists the store names cross-source
// suppression applies to (default: saveyourdeals, slickdeals, woot); ttl
// should be strictly >= the scheduler tick interval.
func New(store kv.Store, ttl time.Duration, aggregators []string) *Deduper {
	set := make(map[string]bool, len(aggregators))
	for _, a := range aggregators {
		set[strings.ToLower(a)] = true
	}
	return &Deduper{store: store, ttl: ttl, aggregators: set}
}

// Applies reports whether store is in the configured aggregator set.
func (d *Deduper) Applies(store string) bool {
	return d.aggregators[strings.ToLower(store)]
}

// NormalizeKey derives the cross-source dedupe key for a product.
func NormalizeKey(sku, url string) string {
	if asinLikeSKU.MatchString(sku) {
		return "asin:" + strings.ToUpper(sku)
	}
	if m := asinInURL.FindStringSubmatch(url); m != nil {
		return "asin:" + strings.ToUpper(m[1])
	}
	return "sku:" + sku
}

func recordKey(key string) string {
	return "dedupe:xsource:" + key
}

func encodeRecord(store string, price float64) string {
	return store + "|" + strconv.FormatFloat(price, 'f', 2, 64)
}

func decodeRecord(raw string) (store string, price float64, ok bool) {
	parts := strings.SplitN(raw, "|", 2)
	if len(parts) != 2 {
		return "", 0, false
	}
	p, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return "", 0, false
	}
	return parts[0], p, true
}

// Evaluate runs the cross-source decision tree for obs, updating the
// persisted record as needed.
func (d *Deduper) Evaluate(ctx context.Context, obs Observation) (Decision, error) {
	key := recordKey(NormalizeKey(obs.SKU, obs.URL))

	raw, found, err := d.store.Get(ctx, key)
	if err != nil {
		return DecisionSuppress, err
	}

	if !found {
		if err := d.store.Set(ctx, key, encodeRecord(obs.Store, obs.Price), d.ttl); err != nil {
			return DecisionSuppress, err
		}
		return DecisionNotify, nil
	}

	_, oldPrice, ok := decodeRecord(raw)
	if !ok {
		return DecisionSuppress, fmt.Errorf("dedupe: malformed record %q for key %q", raw, key)
	}

	if obs.Price < oldPrice {
		if err := d.store.Set(ctx, key, encodeRecord(obs.Store, obs.Price), d.ttl); err != nil {
			return DecisionSuppress, err
		}
		return DecisionNotify, nil
	}

	// new_price == old_price (same store or not) and new_price > old_price
	// both suppress; only a strictly lower price notifies.
	return DecisionSuppress, nil
}
