// Package httpcache implements the conditional-request cache: one
// entry per URL, persisted with a TTL, keyed on ETag/Last-Modified
// validators. Grounded on the order-cache idiom of coalescing concurrent
// loads for the same key via singleflight.
package httpcache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"pricewatch/internal/kv"
)

// Entry is one URL's conditional metadata plus its last known body.
type Entry struct {
	URL          string    `json:"url"`
	Body         string    `json:"body"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

// Cache implements the HTTP Cache contract against a kv.Store.
type Cache struct {
	kv  kv.Store
	ttl time.Duration

	group singleflight.Group

	hits, misses atomic.Int64
}

// New constructs a Cache with the given default TTL.
func New(backing kv.Store, ttl time.Duration) *Cache {
	return &Cache{kv: backing, ttl: ttl}
}

func cacheKey(url string) string {
	sum := sha1.Sum([]byte(url))
	return "httpcache:" + hex.EncodeToString(sum[:])
}

func (c *Cache) get(ctx context.Context, url string) (Entry, bool, error) {
	v, err := c.group.Do(cacheKey(url), func() (interface{}, error) {
		raw, ok, err := c.kv.Get(ctx, cacheKey(url))
		if err != nil || !ok {
			return Entry{}, err
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return Entry{}, err
		}
		return e, nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := v.(Entry)
	return e, ok && e.URL != "", nil
}

// ConditionalHeaders returns the If-None-Match / If-Modified-Since headers
// to attach to a request for url, or an empty map if nothing is cached.
func (c *Cache) ConditionalHeaders(ctx context.Context, url string) (map[string]string, error) {
	e, ok, err := c.get(ctx, url)
	if err != nil || !ok {
		return map[string]string{}, err
	}
	headers := map[string]string{}
	if e.ETag != "" {
		headers["If-None-Match"] = e.ETag
	}
	if e.LastModified != "" {
		headers["If-Modified-Since"] = e.LastModified
	}
	return headers, nil
}

// HandleResponse implements the three-way cache-roundtrip logic: fresh
// 2xx stores a new entry, 304 replays the cached body, anything else
// passes through untouched.
func (c *Cache) HandleResponse(ctx context.Context, url string, resp *http.Response, body string) (cachedBody string, fromCache bool, err error) {
	if resp.StatusCode == http.StatusNotModified {
		e, ok, err := c.get(ctx, url)
		if err != nil {
			return "", false, err
		}
		if !ok {
			c.misses.Add(1)
			return "", false, nil
		}
		c.hits.Add(1)
		return e.Body, true, nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		etag := resp.Header.Get("ETag")
		lastMod := resp.Header.Get("Last-Modified")
		if etag != "" || lastMod != "" {
			e := Entry{URL: url, Body: body, ETag: etag, LastModified: lastMod, StoredAt: time.Now()}
			if err := c.store(ctx, url, e); err != nil {
				return body, false, err
			}
		}
	}
	return body, false, nil
}

// HandleResult is HandleResponse adapted to the fetch pipeline's Result
// shape: fetch.Pipeline closes the response body itself, so the scan
// engine only ever has the status code, headers, and already-read body to
// hand back to the cache.
func (c *Cache) HandleResult(ctx context.Context, url string, statusCode int, headers http.Header, body string) (cachedBody string, fromCache bool, err error) {
	if statusCode == http.StatusNotModified {
		e, ok, err := c.get(ctx, url)
		if err != nil {
			return "", false, err
		}
		if !ok {
			c.misses.Add(1)
			return "", false, nil
		}
		c.hits.Add(1)
		return e.Body, true, nil
	}

	if statusCode >= 200 && statusCode < 300 {
		etag := headers.Get("ETag")
		lastMod := headers.Get("Last-Modified")
		if etag != "" || lastMod != "" {
			e := Entry{URL: url, Body: body, ETag: etag, LastModified: lastMod, StoredAt: time.Now()}
			if err := c.store(ctx, url, e); err != nil {
				return body, false, err
			}
		}
	}
	return body, false, nil
}

func (c *Cache) store(ctx context.Context, url string, e Entry) error {
	buf, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, cacheKey(url), string(buf), c.ttl)
}

// Invalidate removes the cached entry for url.
func (c *Cache) Invalidate(ctx context.Context, url string) error {
	return c.kv.Delete(ctx, cacheKey(url))
}

// Stats is a snapshot of hit/miss counters since process start.
type Stats struct {
	Hits   int64
	Misses int64
}

// StatsSnapshot returns the current hit/miss counters.
func (c *Cache) StatsSnapshot() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
