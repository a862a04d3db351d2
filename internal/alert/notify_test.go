package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebhookSink_EmitsToDiscord(t *testing.T) {
	var discordHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		discordHits++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "", "")

	err := sink.Emit(context.Background(), Alert{
		SKU: "A1", Title: "Widget", Store: "walmart", CurrentPrice: 20, Baseline: 100, Reason: "strikethrough",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if discordHits != 1 {
		t.Fatalf("discord hits = %d, want 1", discordHits)
	}
}

func TestWebhookSink_NoChannelsConfiguredIsNoop(t *testing.T) {
	sink := NewWebhookSink("", "", "")
	if err := sink.Emit(context.Background(), Alert{SKU: "A1"}); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}

func TestWebhookSink_FailureIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "", "")
	err := sink.Emit(context.Background(), Alert{SKU: "A1", Title: "Widget", Store: "walmart", CurrentPrice: 20, Baseline: 100})
	if err == nil || !strings.Contains(err.Error(), "discord") {
		t.Fatalf("expected a discord failure to be reported, got %v", err)
	}
}

func TestFormatAlertMessage_IncludesDiscountAndFlashTag(t *testing.T) {
	msg := formatAlertMessage(Alert{
		Title: "Widget", Store: "walmart", CurrentPrice: 20, Baseline: 100, Reason: "strikethrough", FlashSale: true,
	})
	if !strings.Contains(msg, "80%") || !strings.Contains(msg, "[flash]") {
		t.Fatalf("unexpected message: %q", msg)
	}
}
