// Package session implements the per-(site, proxy, user-agent) cookie jar
// and metadata store, persisted through the kv.Store contract with a
// per-key lock to keep concurrent writers from producing torn cookie sets.
package session

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"pricewatch/internal/kv"
)

// Cookie is one name/value pair scoped to a domain.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
}

// Metadata is the bookkeeping half of a session record.
type Metadata struct {
	ProxyID       int64     `json:"proxy_id"`
	UserAgent     string    `json:"user_agent"`
	SuccessCount  int64     `json:"success_count"`
	FailCount     int64     `json:"fail_count"`
	LastUsed      time.Time `json:"last_used"`
	LastBlockedAt time.Time `json:"last_blocked_at"`
	LastHTTPStatus int      `json:"last_http_status"`
}

type record struct {
	Cookies      []Cookie `json:"cookies"`
	StorageState string   `json:"storage_state,omitempty"`
	Metadata     Metadata `json:"metadata"`
}

// Store owns persisted session state, keyed by (store, proxy_id, ua_hash).
type Store struct {
	kv kv.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a Store backed by kv.
func New(backing kv.Store) *Store {
	return &Store{kv: backing, locks: make(map[string]*sync.Mutex)}
}

// Key builds the session_key = (store, proxy_id, hash(user_agent)).
func Key(store string, proxyID int64, userAgent string) string {
	sum := sha1.Sum([]byte(userAgent))
	return fmt.Sprintf("%s:%d:%s", store, proxyID, hex.EncodeToString(sum[:])[:12])
}

func (s *Store) lockFor(redisKey string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[redisKey]
	if !ok {
		l = &sync.Mutex{}
		s.locks[redisKey] = l
	}
	return l
}

func redisKey(store, sessionKey string) string {
	return "session:" + store + ":" + sessionKey
}

func (s *Store) load(ctx context.Context, store, sessionKey string) (record, bool, error) {
	raw, ok, err := s.kv.Get(ctx, redisKey(store, sessionKey))
	if err != nil || !ok {
		return record{}, ok, err
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return record{}, false, err
	}
	return rec, true, nil
}

func (s *Store) save(ctx context.Context, store, sessionKey string, rec record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, redisKey(store, sessionKey), string(buf), 0)
}

// LoadCookies returns the persisted cookie jar for the key, if any.
func (s *Store) LoadCookies(ctx context.Context, store, sessionKey string) ([]Cookie, error) {
	lock := s.lockFor(redisKey(store, sessionKey))
	lock.Lock()
	defer lock.Unlock()
	rec, _, err := s.load(ctx, store, sessionKey)
	return rec.Cookies, err
}

// SaveCookies overwrites the persisted cookie jar for the key.
func (s *Store) SaveCookies(ctx context.Context, store, sessionKey string, cookies []Cookie) error {
	lock := s.lockFor(redisKey(store, sessionKey))
	lock.Lock()
	defer lock.Unlock()
	rec, _, err := s.load(ctx, store, sessionKey)
	if err != nil {
		return err
	}
	rec.Cookies = cookies
	return s.save(ctx, store, sessionKey, rec)
}

// MergeResponseCookies upserts newCookies into the persisted jar by name,
// scoped to the response's domain, then persists atomically.
func (s *Store) MergeResponseCookies(ctx context.Context, store, sessionKey, responseDomain string, newCookies []Cookie) error {
	lock := s.lockFor(redisKey(store, sessionKey))
	lock.Lock()
	defer lock.Unlock()

	rec, _, err := s.load(ctx, store, sessionKey)
	if err != nil {
		return err
	}
	byName := make(map[string]Cookie, len(rec.Cookies))
	for _, c := range rec.Cookies {
		byName[c.Name] = c
	}
	for _, c := range newCookies {
		if c.Domain == "" {
			c.Domain = responseDomain
		}
		byName[c.Name] = c
	}
	merged := make([]Cookie, 0, len(byName))
	for _, c := range byName {
		merged = append(merged, c)
	}
	rec.Cookies = merged
	return s.save(ctx, store, sessionKey, rec)
}

// CookieHeader renders cookies whose domain matches or is a parent of
// domain as a single "name=value; ..." header value.
func (s *Store) CookieHeader(ctx context.Context, store, sessionKey, domain string) (string, error) {
	cookies, err := s.LoadCookies(ctx, store, sessionKey)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, c := range cookies {
		if domainMatches(domain, c.Domain) {
			parts = append(parts, c.Name+"="+c.Value)
		}
	}
	return strings.Join(parts, "; "), nil
}

func domainMatches(requestDomain, cookieDomain string) bool {
	if cookieDomain == "" {
		return true
	}
	requestDomain = strings.ToLower(requestDomain)
	cookieDomain = strings.ToLower(strings.TrimPrefix(cookieDomain, "."))
	return requestDomain == cookieDomain || strings.HasSuffix(requestDomain, "."+cookieDomain)
}

// UpdateMetadata bumps counters and stamps last_blocked_at when relevant.
func (s *Store) UpdateMetadata(ctx context.Context, store, sessionKey string, proxyID int64, ua string, success bool, httpStatus int) error {
	lock := s.lockFor(redisKey(store, sessionKey))
	lock.Lock()
	defer lock.Unlock()

	rec, _, err := s.load(ctx, store, sessionKey)
	if err != nil {
		return err
	}
	rec.Metadata.ProxyID = proxyID
	rec.Metadata.UserAgent = ua
	rec.Metadata.LastUsed = time.Now()
	rec.Metadata.LastHTTPStatus = httpStatus
	if success {
		rec.Metadata.SuccessCount++
	} else {
		rec.Metadata.FailCount++
	}
	if httpStatus == 401 || httpStatus == 403 {
		rec.Metadata.LastBlockedAt = time.Now()
	}
	return s.save(ctx, store, sessionKey, rec)
}

// SetStorageState stores an opaque headless-context blob.
func (s *Store) SetStorageState(ctx context.Context, store, sessionKey, blob string) error {
	lock := s.lockFor(redisKey(store, sessionKey))
	lock.Lock()
	defer lock.Unlock()
	rec, _, err := s.load(ctx, store, sessionKey)
	if err != nil {
		return err
	}
	rec.StorageState = blob
	return s.save(ctx, store, sessionKey, rec)
}

// StorageState retrieves the opaque headless-context blob.
func (s *Store) StorageState(ctx context.Context, store, sessionKey string) (string, error) {
	rec, _, err := s.load(ctx, store, sessionKey)
	return rec.StorageState, err
}

// Clear removes all persisted artefacts for the key.
func (s *Store) Clear(ctx context.Context, store, sessionKey string) error {
	lock := s.lockFor(redisKey(store, sessionKey))
	lock.Lock()
	defer lock.Unlock()
	return s.kv.Delete(ctx, redisKey(store, sessionKey))
}
