package health

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// KV is the minimal slice of kv.Store the latency sampler needs. Declared
// locally so the health package does not import the kv package.
type KV interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

const latencySampleTTL = 24 * time.Hour

// RecordLatencySample writes one fetch duration to the key-value store,
// independent of Tracker's in-process rolling window. Samples are
// timestamp-keyed so concurrent writers never collide, and expire after
// latencySampleTTL instead of accumulating forever.
func RecordLatencySample(ctx context.Context, kv KV, store string, durationMS int64, at time.Time) error {
	key := fmt.Sprintf("latency:%s:%d", store, at.UnixNano())
	return kv.Set(ctx, key, strconv.FormatInt(durationMS, 10), latencySampleTTL)
}
