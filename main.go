package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pricewatch/internal/alert"
	"pricewatch/internal/config"
	"pricewatch/internal/deal"
	"pricewatch/internal/debugbundle"
	"pricewatch/internal/dedupe"
	"pricewatch/internal/delta"
	"pricewatch/internal/fetch"
	"pricewatch/internal/fetcherr"
	"pricewatch/internal/health"
	"pricewatch/internal/httpcache"
	"pricewatch/internal/kv"
	"pricewatch/internal/logger"
	"pricewatch/internal/metrics"
	"pricewatch/internal/parser"
	"pricewatch/internal/parser/genericld"
	"pricewatch/internal/proxypool"
	"pricewatch/internal/ratelimit"
	"pricewatch/internal/scan"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/session"
	"pricewatch/internal/store"
)

var version = "dev"

func main() {
	flag.Parse()
	logger.Banner(version)

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Store", fmt.Sprintf("failed to open database: %v", err))
		os.Exit(1)
	}
	defer db.Close()

	kvStore, err := kv.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("KV", fmt.Sprintf("failed to connect to redis: %v", err))
		os.Exit(1)
	}
	defer kvStore.Close()

	registry := parser.NewRegistry()
	registry.Register("generic", genericld.New())

	healthTracker := health.New(health.Config{
		AdaptiveEnabled:    cfg.AdaptiveRateLimitingEnabled,
		BaseDelay:          cfg.AdaptiveBaseDelay,
		MaxDelay:           cfg.AdaptiveMaxDelay,
		ErrorRateThreshold: cfg.AdaptiveErrorRateThreshold,
		HighLatencyMS:      cfg.AdaptiveHighLatencyMS,
		CooldownWindow:     cfg.Adaptive429Cooldown,
	})

	limiter := ratelimit.New()

	proxyPool := proxypool.New(proxypool.Config{
		MaxConsecutive403s: cfg.ProxyMaxConsecutive403,
		Cooldown:           cfg.ProxyCooldown,
	}, db)
	if err := proxyPool.Refresh(); err != nil {
		logger.Error("Proxy", fmt.Sprintf("failed to load proxy pool: %v", err))
		os.Exit(1)
	}

	sessions := session.New(kvStore)
	cache := httpcache.New(kvStore, cfg.HTTPCacheTTL)
	deltaDetector := delta.New(kvStore, cfg.DeltaCacheTTL, cfg.DeltaDetectionOn)
	dedu := dedupe.New(kvStore, cfg.CrossSourceTTL, cfg.AggregatorStores)

	var sink alert.Sink = alert.NewWebhookSink(cfg.AlertDiscordWebhook, cfg.AlertTelegramToken, cfg.AlertTelegramChatID)
	alerts := alert.New(kvStore, dedu, cfg.DedupeTTL, cfg.CooldownTTL, sink)

	m := metrics.New()
	bundles := debugbundle.New(cfg.BundleRoot)

	dealTable := deal.Table{
		GlobalMin: cfg.GlobalMinDiscount,
		Defaults: []deal.CategoryDefault{
			{NameLower: "electronics", Config: deal.Config{MinDiscountPercent: 35, MSRPThreshold: 0.65, MaxPrice: 1e9}},
			{NameLower: "toys", Config: deal.Config{MinDiscountPercent: 40, MSRPThreshold: 0.6, MaxPrice: 1e9}},
		},
	}

	policies := map[string]scan.SitePolicy{
		"generic": {
			Store: "generic",
			Host:  "generic",
			FetchPolicy: fetch.Policy{
				MaxAttempts:         cfg.MaxAttempts,
				ConnectTimeout:      cfg.ConnectionTimeout,
				ReadTimeout:         cfg.CategoryRequestTimeout,
				Treat403AsBlocked:   true,
				Treat404AsPermanent: true,
				Treat206AsSuspect:   true,
			},
			RatePolicy: ratelimit.Policy{
				Mode:        ratelimit.ModeInterval,
				MinInterval: cfg.MinPageDelay,
				MaxInterval: cfg.MaxPageDelay,
				Jitter:      500 * time.Millisecond,
			},
			ProxyType: proxypool.TypeDatacenter,
			UseProxy:  false,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
				"Mozilla/5.0 (X11; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0",
			},
			HeaderSets: []fetch.HeaderSet{
				{
					"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
					"Accept-Language": "en-US,en;q=0.9",
					"Sec-Fetch-Mode":  "navigate",
					"Sec-Fetch-Site":  "none",
					"Sec-Fetch-Dest":  "document",
				},
				{
					"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
					"Accept-Language": "en-GB,en;q=0.8",
					"Sec-Fetch-Mode":  "navigate",
					"Sec-Fetch-Site":  "same-origin",
					"Sec-Fetch-Dest":  "document",
				},
				{
					"Accept":          "*/*",
					"Accept-Language": "en-US,en;q=0.5",
					"Sec-Fetch-Mode":  "cors",
					"Sec-Fetch-Site":  "same-site",
					"Sec-Fetch-Dest":  "empty",
				},
			},
		},
	}

	engine := scan.New(cfg, db, kvStore, registry, healthTracker, limiter, proxyPool, sessions, cache,
		deltaDetector, dealTable, alerts, m, bundles, policies)

	sched := scheduler.New(
		scheduler.Tuning{NoDealsPenalty: 1.5, SuccessRateBoost: 0.75},
		healthTracker,
		scheduler.CooldownTable{
			fetcherr.KindBlocked:     8 * time.Hour,
			fetcherr.KindPermanent:   24 * time.Hour,
			fetcherr.KindTransient:   5 * time.Minute,
			fetcherr.KindRateLimited: time.Hour,
			fetcherr.KindTimeout:     30 * time.Minute,
		},
		func(text string) (fetcherr.Kind, bool) {
			return fetcherr.ClassifyBySubstring(text, fetcherr.DefaultCooldownRules())
		},
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: mux}

	go func() {
		logger.Server(httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP", fmt.Sprintf("metrics server failed: %v", err))
		}
	}()

	runScanLoop(ctx, cfg, db, sched, engine)

	logger.Info("Core", "shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP", fmt.Sprintf("shutdown error: %v", err))
	}
	if err := db.PersistProxyCounters(proxyPool.Snapshot()); err != nil {
		logger.Error("Proxy", fmt.Sprintf("failed to persist proxy counters: %v", err))
	}
	logger.Info("Core", "stopped")
}

// runScanLoop ticks the scheduler at cfg.SchedulerInterval, computing the
// due set from the persisted category table and handing it to the scan
// engine as one batch. It blocks until ctx is cancelled.
func runScanLoop(ctx context.Context, cfg *config.Config, db *store.Store, sched *scheduler.Scheduler, engine *scan.Engine) {
	ticker := time.NewTicker(cfg.SchedulerInterval)
	defer ticker.Stop()

	runOnce(ctx, db, sched, engine)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, db, sched, engine)
		}
	}
}

func runOnce(ctx context.Context, db *store.Store, sched *scheduler.Scheduler, engine *scan.Engine) {
	categories, err := db.ListEnabledCategories()
	if err != nil {
		logger.Error("Scheduler", fmt.Sprintf("failed to list categories: %v", err))
		return
	}

	schedCategories := make([]scheduler.Category, len(categories))
	byID := make(map[int64]store.Category, len(categories))
	for i, c := range categories {
		schedCategories[i] = scheduler.Category{
			ID:                      c.ID,
			Store:                   c.Store,
			Name:                    c.Name,
			Priority:                c.Priority,
			BaseScanIntervalMinutes: c.BaseScanIntervalMinutes,
			LastScannedAt:           c.LastScannedAt,
			LastError:               c.LastError,
			LastErrorAt:             c.LastErrorAt,
			DealsFound:              c.DealsFound,
		}
		byID[c.ID] = c
	}

	due := sched.DueSet(schedCategories, time.Now())
	if len(due) == 0 {
		return
	}

	batch := make([]store.Category, 0, len(due))
	for _, d := range due {
		batch = append(batch, byID[d.ID])
	}

	logger.Info("Scheduler", fmt.Sprintf("%d categories due for scan", len(batch)))
	jobID, err := engine.ScanMany(ctx, batch, store.ScanJobScheduled)
	if err != nil {
		logger.Error("Scan", fmt.Sprintf("scan batch failed: %v", err))
		return
	}
	logger.Success("Scan", fmt.Sprintf("completed scan job %s", jobID))
}
