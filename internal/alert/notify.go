package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookSink fans an emitted Alert out to zero or more configured chat
// webhooks. Each channel failing independently does not block the others;
// the caller only learns about a failure through the returned error, which
// joins every channel's error text.
type WebhookSink struct {
	Client *http.Client

	DiscordWebhookURL string

	TelegramToken  string
	TelegramChatID string
}

// NewWebhookSink constructs a WebhookSink with an 8 second per-request
// timeout.
func NewWebhookSink(discordWebhookURL, telegramToken, telegramChatID string) *WebhookSink {
	return &WebhookSink{
		Client:            &http.Client{Timeout: 8 * time.Second},
		DiscordWebhookURL: discordWebhookURL,
		TelegramToken:     telegramToken,
		TelegramChatID:    telegramChatID,
	}
}

// Emit sends a through every configured channel.
func (w *WebhookSink) Emit(ctx context.Context, a Alert) error {
	msg := formatAlertMessage(a)

	var failures []string
	if strings.TrimSpace(w.DiscordWebhookURL) != "" {
		if err := w.sendDiscord(ctx, msg); err != nil {
			failures = append(failures, fmt.Sprintf("discord: %v", err))
		}
	}
	if strings.TrimSpace(w.TelegramToken) != "" && strings.TrimSpace(w.TelegramChatID) != "" {
		if err := w.sendTelegram(ctx, msg); err != nil {
			failures = append(failures, fmt.Sprintf("telegram: %v", err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("alert: %s", strings.Join(failures, "; "))
	}
	return nil
}

func formatAlertMessage(a Alert) string {
	discount := 0.0
	if a.Baseline > 0 {
		discount = (1 - a.CurrentPrice/a.Baseline) * 100
	}
	flash := ""
	if a.FlashSale {
		flash = " [flash]"
	}
	return fmt.Sprintf("%s (%s)%s: $%.2f, was $%.2f (%.0f%% off) — %s",
		a.Title, a.Store, flash, a.CurrentPrice, a.Baseline, discount, a.Reason)
}

func (w *WebhookSink) sendDiscord(ctx context.Context, message string) error {
	body, _ := json.Marshal(map[string]any{"content": message})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSpace(w.DiscordWebhookURL), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Discord's webhook endpoint usually returns 204 No Content.
	if resp.StatusCode != http.StatusNoContent && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

func (w *WebhookSink) sendTelegram(ctx context.Context, message string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", strings.TrimSpace(w.TelegramToken))
	body, _ := json.Marshal(map[string]any{
		"chat_id":                  strings.TrimSpace(w.TelegramChatID),
		"text":                     message,
		"disable_web_page_preview": true,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}
