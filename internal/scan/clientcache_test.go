package scan

import (
	"testing"
	"time"

	"pricewatch/internal/proxypool"
)

func TestClientCache_DistinctKeysGetDistinctClients(t *testing.T) {
	cc := NewClientCache(10, time.Second, time.Second)

	direct, err := cc.Get("walmart", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	proxied, err := cc.Get("walmart", &proxypool.Proxy{ID: 1, Host: "proxy.example.com", Port: 8080})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if direct == proxied {
		t.Fatal("expected distinct clients for direct vs proxied fetches")
	}

	again, err := cc.Get("walmart", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != direct {
		t.Fatal("expected the cache to return the same client for a repeated key")
	}
}

func TestClientCache_DifferentStoresGetDistinctClients(t *testing.T) {
	cc := NewClientCache(10, time.Second, time.Second)

	a, _ := cc.Get("walmart", nil)
	b, _ := cc.Get("target", nil)
	if a == b {
		t.Fatal("expected distinct stores to get distinct clients")
	}
}
