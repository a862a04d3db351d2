// Package delta implements delta detection: skip products whose
// price fields have not changed since the last scan, backed by the KV
// store, keying entries by a content hash rather than a timestamp.
package delta

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"pricewatch/internal/kv"
)

// Product is the minimal shape needed to hash a product's price state.
type Product struct {
	SKU           string
	CurrentPrice  float64
	OriginalPrice float64
}

// Detector tracks per-store, per-sku price hashes in kv with a TTL.
type Detector struct {
	store   kv.Store
	ttl     time.Duration
	enabled bool
}

// New constructs a Detector. When enabled is false, HasChanged,
// FilterChanged and MarkSeen are passthroughs: every product counts as
// changed and nothing is recorded. Invalidate and InvalidateStore still
// delete from the store.
func New(store kv.Store, ttl time.Duration, enabled bool) *Detector {
	return &Detector{store: store, ttl: ttl, enabled: enabled}
}

func hashKey(store, sku string) string {
	return fmt.Sprintf("delta:%s:%s", store, sku)
}

// Hash computes hash(sku, current_price, original_price), normalizing
// absent prices to "0".
func Hash(p Product) string {
	cur := "0"
	if p.CurrentPrice > 0 {
		cur = fmt.Sprintf("%.2f", p.CurrentPrice)
	}
	orig := "0"
	if p.OriginalPrice > 0 {
		orig = fmt.Sprintf("%.2f", p.OriginalPrice)
	}
	sum := sha256.Sum256([]byte(p.SKU + "|" + cur + "|" + orig))
	return hex.EncodeToString(sum[:])
}

// HasChanged reports whether p's hash differs from the one persisted for
// store. A product with no prior hash on record is treated as changed.
func (d *Detector) HasChanged(ctx context.Context, p Product, store string) (bool, error) {
	if !d.enabled {
		return true, nil
	}
	prior, found, err := d.store.Get(ctx, hashKey(store, p.SKU))
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return prior != Hash(p), nil
}

// FilterChanged returns only the products in list whose hash differs from
// the persisted one for store, alongside a count of how many were dropped
// as unchanged.
func (d *Detector) FilterChanged(ctx context.Context, list []Product, store string) (changed []Product, unchangedCount int, err error) {
	if !d.enabled {
		return list, 0, nil
	}
	for _, p := range list {
		isChanged, err := d.HasChanged(ctx, p, store)
		if err != nil {
			return nil, 0, err
		}
		if isChanged {
			changed = append(changed, p)
		} else {
			unchangedCount++
		}
	}
	return changed, unchangedCount, nil
}

// MarkSeen writes the current hash for every product in list, with the
// configured TTL.
func (d *Detector) MarkSeen(ctx context.Context, list []Product, store string) error {
	if !d.enabled {
		return nil
	}
	for _, p := range list {
		if err := d.store.Set(ctx, hashKey(store, p.SKU), Hash(p), d.ttl); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate drops the persisted hash for one sku under store.
func (d *Detector) Invalidate(ctx context.Context, store, sku string) error {
	return d.store.Delete(ctx, hashKey(store, sku))
}

// InvalidateStore drops every persisted hash under store.
func (d *Detector) InvalidateStore(ctx context.Context, store string) error {
	var keys []string
	err := d.store.Scan(ctx, hashKey(store, "")+"*", func(key string) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := d.store.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
