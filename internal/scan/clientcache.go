package scan

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"pricewatch/internal/fetch"
	"pricewatch/internal/proxypool"
)

type clientKey struct {
	store   string
	proxyID int64
}

// ClientCache holds one long-lived, connection-pooled *http.Client per
// (store, proxy) pair, so repeated fetches reuse keep-alive connections
// instead of paying a fresh TLS handshake every page. Construction under a
// per-key lock mirrors the session store's per-key-lock idiom, keeping two
// concurrent first-fetches for the same key from building and discarding
// duplicate clients.
type ClientCache struct {
	maxConnsPerHost int
	connectTimeout  time.Duration
	keepAlive       time.Duration

	mu      sync.Mutex
	clients map[clientKey]*http.Client
	locks   map[clientKey]*sync.Mutex
}

// NewClientCache constructs an empty cache using the given per-client
// transport tunables.
func NewClientCache(maxConnsPerHost int, connectTimeout, keepAlive time.Duration) *ClientCache {
	return &ClientCache{
		maxConnsPerHost: maxConnsPerHost,
		connectTimeout:  connectTimeout,
		keepAlive:       keepAlive,
		clients:         make(map[clientKey]*http.Client),
		locks:           make(map[clientKey]*sync.Mutex),
	}
}

func (c *ClientCache) lockFor(key clientKey) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// Get returns the cached client for (store, proxy), building and caching
// one on first use. proxy may be nil for a direct (no-proxy) fetch.
func (c *ClientCache) Get(store string, proxy *proxypool.Proxy) (*http.Client, error) {
	var proxyID int64
	if proxy != nil {
		proxyID = proxy.ID
	}
	key := clientKey{store: store, proxyID: proxyID}

	c.mu.Lock()
	if cl, ok := c.clients[key]; ok {
		c.mu.Unlock()
		return cl, nil
	}
	c.mu.Unlock()

	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	if cl, ok := c.clients[key]; ok {
		c.mu.Unlock()
		return cl, nil
	}
	c.mu.Unlock()

	client := fetch.NewClient(c.maxConnsPerHost, c.connectTimeout, c.keepAlive)
	if proxy != nil {
		proxyURL, err := url.Parse(proxy.URL())
		if err != nil {
			return nil, err
		}
		transport := client.Transport.(*http.Transport)
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	c.mu.Lock()
	c.clients[key] = client
	c.mu.Unlock()
	return client, nil
}
