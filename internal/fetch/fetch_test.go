package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pricewatch/internal/health"
)

func newTestPipeline() (*Pipeline, *health.Tracker) {
	tracker := health.New(health.Config{AdaptiveEnabled: false, BaseDelay: time.Second})
	client := NewClient(4, 2*time.Second, 30*time.Second)
	return New(client, tracker, nil), tracker
}

func TestFetch_OKHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div class="product-tile">Widget</div></body></html>`))
	}))
	defer srv.Close()

	p, tracker := newTestPipeline()
	res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "test"}, Policy{
		MaxAttempts:      1,
		ProductIndicators: []string{"product-tile"},
	}, nil, "pricewatch-test/1.0")

	if res.Outcome != OutcomeOKHTML {
		t.Fatalf("outcome = %v, want OK_HTML", res.Outcome)
	}
	if !tracker.IsHealthy("test") {
		t.Fatal("expected store to remain healthy after success")
	}
}

func TestFetch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p, _ := newTestPipeline()
	res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "test"}, Policy{MaxAttempts: 1}, nil, "ua")
	if res.Outcome != OutcomeNotFound {
		t.Fatalf("outcome = %v, want NOT_FOUND", res.Outcome)
	}
}

func TestFetch_Blocked403(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p, _ := newTestPipeline()
	res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "test"}, Policy{MaxAttempts: 1}, nil, "ua")
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("outcome = %v, want BLOCKED", res.Outcome)
	}
	if res.BlockType != health.Block403 {
		t.Fatalf("blockType = %v, want 403", res.BlockType)
	}
}

func TestFetch_BlockedURLSubstringPrecedesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p, _ := newTestPipeline()
	res := p.Fetch(context.Background(), Request{URL: srv.URL + "/captcha-check", Store: "test"},
		Policy{MaxAttempts: 1, BlockedURLSubstrings: []string{"captcha-check"}}, nil, "ua")
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("outcome = %v, want BLOCKED (url substring should preempt 200 status)", res.Outcome)
	}
}

func TestFetch_BotChallengeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>Please enable javascript and complete the captcha to continue.</body></html>"))
	}))
	defer srv.Close()

	p, _ := newTestPipeline()
	res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "test"}, Policy{MaxAttempts: 1}, nil, "ua")
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("outcome = %v, want BLOCKED", res.Outcome)
	}
	if res.BlockType != health.BlockChallenge {
		t.Fatalf("blockType = %v, want challenge", res.BlockType)
	}
}

func TestFetch_ParsingEmptyWhenNoIndicatorsFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>nothing here</body></html>`))
	}))
	defer srv.Close()

	p, _ := newTestPipeline()
	res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "test"},
		Policy{MaxAttempts: 1, ProductIndicators: []string{"product-tile"}}, nil, "ua")
	if res.Outcome != OutcomeParsingEmpty {
		t.Fatalf("outcome = %v, want PARSING_EMPTY", res.Outcome)
	}
}

func TestFetch_RetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`<div class="product-tile"></div>`))
	}))
	defer srv.Close()

	p, _ := newTestPipeline()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res := p.Fetch(ctx, Request{URL: srv.URL, Store: "test"},
		Policy{MaxAttempts: 3, ProductIndicators: []string{"product-tile"}}, nil, "ua")
	if res.Outcome != OutcomeOKHTML {
		t.Fatalf("outcome = %v, want OK_HTML after retry", res.Outcome)
	}
	if res.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", res.Attempts)
	}
}

func TestFetch_PartialContentSuspectOn206WithoutRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("short"))
	}))
	defer srv.Close()

	p, _ := newTestPipeline()
	res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "test"}, Policy{MaxAttempts: 1}, nil, "ua")
	if res.Outcome != OutcomePartialContentSuspect {
		t.Fatalf("outcome = %v, want PARTIAL_CONTENT_SUSPECT", res.Outcome)
	}
}

func TestFetch_EmbeddedJSONClassifiedAsOKJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><script id="__NEXT_DATA__">{"props":{"sku":"B001"}}</script>
			<div class="product-tile"></div></body></html>`))
	}))
	defer srv.Close()

	p, _ := newTestPipeline()
	res := p.Fetch(context.Background(), Request{URL: srv.URL, Store: "test"},
		Policy{MaxAttempts: 1, ProductIndicators: []string{"product-tile"}}, nil, "ua")
	if res.Outcome != OutcomeOKJSON {
		t.Fatalf("outcome = %v, want OK_JSON", res.Outcome)
	}
}
