// Package alert implements the alert pipeline: turn a surviving
// deal into at most one emitted alert per (store, sku, rounded price)
// within the dedupe window, with a cooldown bypass when the price keeps
// dropping.
package alert

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"

	"pricewatch/internal/dedupe"
	"pricewatch/internal/kv"
)

// Alert is the payload handed to an AlertSink.
type Alert struct {
	SKU          string
	Title        string
	Store        string
	CurrentPrice float64
	PreviousPrice float64
	Baseline     float64
	MSRP         float64
	Reason       string
	Confidence   float64
	ImageURL     string
	FlashSale    bool
}

// Sink is where accepted alerts go. The pipeline does not care about the
// transport.
type Sink interface {
	Emit(ctx context.Context, a Alert) error
}

// Deal is the minimal shape the pipeline needs from deal detection output.
type Deal struct {
	SKU           string
	Title         string
	CurrentPrice  float64
	OriginalPrice float64
	MSRP          float64
	Method        string
	Confidence    float64
	ImageURL      string
}

// CrossSourceChecker is the cross-source deduper's interface, as consumed by the alert
// pipeline.
type CrossSourceChecker interface {
	Applies(store string) bool
	Evaluate(ctx context.Context, obs dedupe.Observation) (dedupe.Decision, error)
}

// Pipeline runs the dedupe/cooldown/cross-source decision sequence.
type Pipeline struct {
	store         kv.Store
	crossSource   CrossSourceChecker
	dedupeTTL     time.Duration
	cooldownTTL   time.Duration
	sink          Sink
}

// New constructs a Pipeline.
func New(store kv.Store, crossSource CrossSourceChecker, dedupeTTL, cooldownTTL time.Duration, sink Sink) *Pipeline {
	return &Pipeline{store: store, crossSource: crossSource, dedupeTTL: dedupeTTL, cooldownTTL: cooldownTTL, sink: sink}
}

func dedupeKey(store, sku string, price float64) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%d", store, sku, int64(math.Round(price)))))
	return "alert:dedupe:" + hex.EncodeToString(sum[:])
}

func cooldownKey(store, sku string) string {
	sum := sha1.Sum([]byte(store + "|" + sku))
	return "alert:cooldown:" + hex.EncodeToString(sum[:])
}

// Process runs one deal through the dedupe/cooldown/cross-source sequence,
// emitting to the sink iff it is not suppressed. url is the product URL,
// used only for ASIN normalization; flashSale is the category-name-heuristic
// flag from the scheduler's table.
func (p *Pipeline) Process(ctx context.Context, store, url string, d Deal, flashSale bool) (emitted bool, err error) {
	dkey := dedupeKey(store, d.SKU, d.CurrentPrice)
	reserved, err := p.store.SetNX(ctx, dkey, "1", p.dedupeTTL)
	if err != nil {
		return false, err
	}
	if !reserved {
		return false, nil
	}

	ckey := cooldownKey(store, d.SKU)
	raw, found, err := p.store.Get(ctx, ckey)
	if err != nil {
		return false, err
	}
	if found {
		lastPrice, perr := strconv.ParseFloat(raw, 64)
		if perr == nil && d.CurrentPrice >= lastPrice {
			return false, nil
		}
		// price strictly lower than the cooldown-stored price: bypass.
	}

	if p.crossSource != nil && p.crossSource.Applies(store) {
		decision, cerr := p.crossSource.Evaluate(ctx, dedupe.Observation{
			SKU: d.SKU, Store: store, Price: d.CurrentPrice, URL: url,
		})
		if cerr != nil {
			return false, cerr
		}
		if decision == dedupe.DecisionSuppress {
			return false, nil
		}
	}

	a := Alert{
		SKU:           d.SKU,
		Title:         d.Title,
		Store:         store,
		CurrentPrice:  d.CurrentPrice,
		PreviousPrice: d.OriginalPrice,
		Baseline:      d.OriginalPrice,
		MSRP:          d.MSRP,
		Reason:        d.Method,
		Confidence:    d.Confidence,
		ImageURL:      d.ImageURL,
		FlashSale:     flashSale,
	}
	if err := p.sink.Emit(ctx, a); err != nil {
		return false, err
	}

	if err := p.store.Set(ctx, ckey, strconv.FormatFloat(d.CurrentPrice, 'f', 2, 64), p.cooldownTTL); err != nil {
		return false, err
	}
	return true, nil
}
