// Package scan implements the scan engine: run one category's
// pagination loop end to end (fetch, cache roundtrip, session update,
// parse, filter, delta, deal detection, alerting) and orchestrate a batch
// of categories as one ScanJob.
package scan

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"pricewatch/internal/alert"
	"pricewatch/internal/config"
	"pricewatch/internal/deal"
	"pricewatch/internal/debugbundle"
	"pricewatch/internal/delta"
	"pricewatch/internal/fetch"
	"pricewatch/internal/fetcherr"
	"pricewatch/internal/health"
	"pricewatch/internal/httpcache"
	"pricewatch/internal/kv"
	"pricewatch/internal/logger"
	"pricewatch/internal/metrics"
	"pricewatch/internal/parser"
	"pricewatch/internal/proxypool"
	"pricewatch/internal/ratelimit"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/session"
	"pricewatch/internal/store"
)

// SitePolicy bundles everything store-specific a scan needs: the fetch
// policy, the rate-limiter policy, whether to route through the proxy
// pool, and the user-agent rotation.
type SitePolicy struct {
	Store       string
	Host        string // rate-limiter/client-cache key, e.g. "www.walmart.com"
	FetchPolicy fetch.Policy
	RatePolicy  ratelimit.Policy
	ProxyType   proxypool.Type
	UseProxy    bool
	UserAgents  []string
	HeaderSets  []fetch.HeaderSet
}

func pickUserAgent(agents []string) string {
	if len(agents) == 0 {
		return ""
	}
	return agents[rand.Intn(len(agents))]
}

// Engine owns every dependency one category scan touches.
type Engine struct {
	cfg *config.Config

	db       *store.Store
	kv       kv.Store
	registry *parser.Registry
	health   *health.Tracker
	limiter  *ratelimit.Limiter
	proxies  *proxypool.Pool
	sessions *session.Store
	cache    *httpcache.Cache
	delta    *delta.Detector
	dealTable deal.Table
	alerts   *alert.Pipeline
	metrics  *metrics.Metrics
	bundles  *debugbundle.Writer
	clients  *ClientCache

	policies map[string]SitePolicy

	pageSem       *semaphore.Weighted
	amazonPageSem *semaphore.Weighted
	categorySem   *semaphore.Weighted

	kidsExcludeKeywords []string
}

// New constructs an Engine. policies maps a store name to its SitePolicy;
// dealTable resolves per-category/store detection thresholds.
func New(
	cfg *config.Config,
	db *store.Store,
	kvStore kv.Store,
	registry *parser.Registry,
	healthTracker *health.Tracker,
	limiter *ratelimit.Limiter,
	proxies *proxypool.Pool,
	sessions *session.Store,
	cache *httpcache.Cache,
	deltaDetector *delta.Detector,
	dealTable deal.Table,
	alerts *alert.Pipeline,
	m *metrics.Metrics,
	bundles *debugbundle.Writer,
	policies map[string]SitePolicy,
) *Engine {
	e := &Engine{
		cfg:       cfg,
		db:        db,
		kv:        kvStore,
		registry:  registry,
		health:    healthTracker,
		limiter:   limiter,
		proxies:   proxies,
		sessions:  sessions,
		cache:     cache,
		delta:     deltaDetector,
		dealTable: dealTable,
		alerts:    alerts,
		metrics:   m,
		bundles:   bundles,
		policies:  policies,

		pageSem:       semaphore.NewWeighted(int64(maxi(cfg.MaxParallelPagesPerCategory*cfg.MaxParallelCategoryScans, 1))),
		amazonPageSem: semaphore.NewWeighted(int64(maxi(cfg.AmazonMaxParallelPages, 1))),
		categorySem:   semaphore.NewWeighted(int64(maxi(cfg.MaxParallelCategoryScans, 1))),

		kidsExcludeKeywords: cfg.KidsExcludeKeywords,
	}
	e.clients = NewClientCache(cfg.HTTPMaxConnections, cfg.ConnectionTimeout, cfg.ConnectionKeepAlive)
	return e
}

func maxi(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (e *Engine) onDebug(storeName string, outcome fetch.Outcome, req fetch.Request, result fetch.Result) {
	e.bundles.Write(debugbundle.Bundle{
		Store:      storeName,
		Outcome:    string(outcome),
		URL:        req.URL,
		StatusCode: result.StatusCode,
		Headers:    map[string][]string(result.Headers),
		Body:       result.Body,
		Attempts:   result.Attempts,
		Err:        errString(result.Err),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (e *Engine) pageSemaphoreFor(storeName string) *semaphore.Weighted {
	if storeName == "amazon" {
		return e.amazonPageSem
	}
	return e.pageSem
}

// fetchOnce performs one HTTP attempt against pageURL through proxy (nil
// for direct), updating health, proxy, session, and cache state.
func (e *Engine) fetchOnce(ctx context.Context, policy SitePolicy, pageURL string, proxy *proxypool.Proxy) (fetch.Result, error) {
	client, err := e.clients.Get(policy.Store, proxy)
	if err != nil {
		return fetch.Result{}, err
	}

	if err := e.limiter.Acquire(ctx, policy.Host, policy.RatePolicy); err != nil {
		return fetch.Result{}, err
	}

	var proxyID int64
	if proxy != nil {
		proxyID = proxy.ID
	}
	ua := pickUserAgent(policy.UserAgents)
	sessionKey := session.Key(policy.Store, proxyID, ua)

	extra := map[string]string{}
	if condHeaders, cerr := e.cache.ConditionalHeaders(ctx, pageURL); cerr == nil {
		for k, v := range condHeaders {
			extra[k] = v
		}
	}
	if cookieHeader, herr := e.sessions.CookieHeader(ctx, policy.Store, sessionKey, policy.Host); herr == nil && cookieHeader != "" {
		extra["Cookie"] = cookieHeader
	}

	pipeline := fetch.New(client, e.health, e.onDebug)
	req := fetch.Request{URL: pageURL, Store: policy.Store, ExtraHeaders: extra}
	headerSource := fetch.RandomHeaderSource(policy.HeaderSets)
	result := pipeline.Fetch(ctx, req, policy.FetchPolicy, headerSource, ua)

	if e.metrics != nil {
		e.metrics.ScanAttempts.WithLabelValues(policy.Store).Inc()
		if result.StatusCode != 0 {
			e.metrics.HTTPErrors.WithLabelValues(policy.Store, strconv.Itoa(result.StatusCode)).Inc()
		}
		if result.Outcome == fetch.OutcomeBlocked {
			e.metrics.ScanBlocks.WithLabelValues(policy.Store, string(result.BlockType)).Inc()
		}
	}

	success := result.Outcome == fetch.OutcomeOKHTML || result.Outcome == fetch.OutcomeOKJSON || result.Outcome == fetch.OutcomeNotModified
	_ = e.sessions.UpdateMetadata(ctx, policy.Store, sessionKey, proxyID, ua, success, result.StatusCode)

	if e.kv != nil {
		if serr := health.RecordLatencySample(ctx, e.kv, policy.Store, result.DurationMS, time.Now()); serr != nil {
			logger.Warn("scan", fmt.Sprintf("latency sample for %s: %v", policy.Store, serr))
		}
	}

	if proxy != nil {
		switch result.Outcome {
		case fetch.OutcomeBlocked:
			e.proxies.ReportBlock(proxy.ID)
			if e.metrics != nil {
				e.metrics.Proxy403s.WithLabelValues(strconv.FormatInt(proxy.ID, 10)).Inc()
			}
		case fetch.OutcomeOKHTML, fetch.OutcomeOKJSON, fetch.OutcomeNotModified:
			e.proxies.ReportSuccess(proxy.ID)
		default:
			e.proxies.ReportFailure(proxy.ID, proxypool.KindNetwork)
		}
	}

	if result.Outcome == fetch.OutcomeBlocked {
		e.limiter.Cooldown(policy.Host, time.Now().Add(e.health.RecommendedDelay(policy.Store)))
	}

	switch result.Outcome {
	case fetch.OutcomeOKHTML, fetch.OutcomeOKJSON:
		if e.metrics != nil {
			e.metrics.CacheMisses.Inc()
		}
		if _, _, cerr := e.cache.HandleResult(ctx, pageURL, result.StatusCode, result.Headers, result.Body); cerr != nil {
			logger.Warn("scan", fmt.Sprintf("cache store for %s: %v", pageURL, cerr))
		}
	case fetch.OutcomeNotModified:
		if cachedBody, fromCache, cerr := e.cache.HandleResult(ctx, pageURL, result.StatusCode, result.Headers, ""); cerr == nil && fromCache {
			if e.metrics != nil {
				e.metrics.CacheHits.Inc()
			}
			result.Body = cachedBody
			result.Outcome = fetch.OutcomeOKHTML
		}
	}

	if result.Headers != nil {
		resp := &http.Response{Header: result.Headers}
		if cookies := resp.Cookies(); len(cookies) > 0 {
			if merr := e.sessions.MergeResponseCookies(ctx, policy.Store, sessionKey, policy.Host, toSessionCookies(cookies)); merr != nil {
				logger.Warn("scan", fmt.Sprintf("merge cookies for %s: %v", policy.Store, merr))
			}
		}
	}

	return result, nil
}

func toSessionCookies(cookies []*http.Cookie) []session.Cookie {
	out := make([]session.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, session.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain})
	}
	return out
}

// fetchPage runs the proxy-rotation loop: each blocked outcome excludes
// that proxy and tries the next one of the same type, never repeating a
// proxy within one page fetch.
func (e *Engine) fetchPage(ctx context.Context, policy SitePolicy, pageURL string) (fetch.Result, error) {
	sem := e.pageSemaphoreFor(policy.Store)
	if err := sem.Acquire(ctx, 1); err != nil {
		return fetch.Result{}, err
	}
	defer sem.Release(1)

	if !policy.UseProxy {
		return e.fetchOnce(ctx, policy, pageURL, nil)
	}

	exclude := make(map[int64]bool)
	var last fetch.Result
	for {
		proxy, ok := e.proxies.Next(exclude, policy.ProxyType)
		if !ok {
			if len(exclude) == 0 {
				// nothing usable in the pool at all: proceed direct rather
				// than stall the category.
				return e.fetchOnce(ctx, policy, pageURL, nil)
			}
			return last, nil // every eligible proxy excluded this attempt
		}
		result, err := e.fetchOnce(ctx, policy, pageURL, proxy)
		if err != nil {
			return result, err
		}
		last = result
		if result.Outcome == fetch.OutcomeBlocked {
			exclude[proxy.ID] = true
			continue
		}
		return result, nil
	}
}

const knownSKUTTL = 60 * 24 * time.Hour

// isNewProduct reports whether sku has not been seen before for
// (store, categoryID), using a SetNX so the first caller to observe it
// wins the "new" classification, same idiom as the alert pipeline's
// dedupe reservation.
func (e *Engine) isNewProduct(ctx context.Context, storeName string, categoryID int64, sku string) bool {
	key := fmt.Sprintf("knownsku:%s:%d:%s", storeName, categoryID, sku)
	firstSeen, err := e.kv.SetNX(ctx, key, "1", knownSKUTTL)
	if err != nil {
		return false
	}
	return firstSeen
}

// ScanResult summarises one category's scan.
type ScanResult struct {
	CategoryID    int64
	Store         string
	Category      string
	ProductsFound int
	DealsFound    int
	NewProducts   []string
	FlashSale     bool
	Disable       bool
	Err           error
}

// ScanCategory runs the full per-category pipeline: paginate, parse,
// filter, delta-check, detect deals, dispatch alerts.
func (e *Engine) ScanCategory(ctx context.Context, cat store.Category, exclusions []store.ProductExclusion) ScanResult {
	result := ScanResult{CategoryID: cat.ID, Store: cat.Store, Category: cat.Name}

	policy, ok := e.policies[cat.Store]
	if !ok {
		result.Err = fetcherr.New(fetcherr.KindConfigError, "scan.policy", fmt.Errorf("no site policy configured for store %q", cat.Store))
		return result
	}

	filter := BuildFilterConfig(cat, exclusions, e.cfg.KidsLowPriceMax, e.kidsExcludeKeywords, e.cfg.GlobalMinPrice)
	dealCfg := e.dealTable.Resolve(cat.Name, cat.Store)
	result.FlashSale = scheduler.IsFlashCategory(cat.Name)

	var allProducts []parser.Product
	pageURL := cat.URL
	maxPages := cat.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	for page := 0; page < maxPages && pageURL != ""; page++ {
		fres, err := e.fetchPage(ctx, policy, pageURL)
		if err != nil {
			result.Err = err
			break
		}

		if fres.Outcome == fetch.OutcomeNotFound {
			result.Err = fetcherr.New(fetcherr.KindPermanent, "scan.fetch", fmt.Errorf("HTTP 404 at %s", pageURL))
			result.Disable = e.cfg.DisableOn404
			break
		}
		if fres.Outcome != fetch.OutcomeOKHTML && fres.Outcome != fetch.OutcomeOKJSON {
			result.Err = fetcherr.New(classifyOutcome(fres), "scan.fetch", fmt.Errorf("%s at %s", fres.Outcome, pageURL))
			break
		}

		products, next, perr := e.registry.Extract(cat.Store, pageURL, fres.Body)
		if perr != nil {
			result.Err = fetcherr.New(fetcherr.KindConfigError, "scan.parse", perr)
			break
		}
		allProducts = append(allProducts, products...)
		pageURL = next

		if page+1 < maxPages && pageURL != "" {
			if err := sleepJitter(ctx, e.cfg.MinPageDelay, e.cfg.MaxPageDelay); err != nil {
				result.Err = err
				break
			}
		}
	}

	result.ProductsFound = len(allProducts)
	if e.metrics != nil {
		e.metrics.ProductsDiscovered.WithLabelValues(cat.Store).Add(float64(len(allProducts)))
	}

	filtered := filter.ApplyAll(allProducts)

	for _, p := range filtered {
		if e.isNewProduct(ctx, cat.Store, cat.ID, p.SKU) {
			result.NewProducts = append(result.NewProducts, p.SKU)
		}
	}
	if e.metrics != nil && len(result.NewProducts) > 0 {
		e.metrics.NewProductsFound.WithLabelValues(cat.Store, cat.Name).Add(float64(len(result.NewProducts)))
	}

	deltaProducts := toDeltaProducts(filtered)
	changed, unchanged, derr := e.delta.FilterChanged(ctx, deltaProducts, cat.Store)
	if derr != nil {
		result.Err = derr
	}
	if e.metrics != nil {
		e.metrics.DeltaSkipped.WithLabelValues(cat.Store).Add(float64(unchanged))
		e.metrics.DeltaChanged.WithLabelValues(cat.Store).Add(float64(len(changed)))
	}

	byDeltaSKU := make(map[string]parser.Product, len(filtered))
	for _, p := range filtered {
		byDeltaSKU[p.SKU] = p
	}
	dealCandidates := make([]deal.Product, 0, len(changed))
	for _, dp := range changed {
		p := byDeltaSKU[dp.SKU]
		dealCandidates = append(dealCandidates, deal.Product{
			SKU: p.SKU, Title: p.Title, CurrentPrice: p.CurrentPrice, OriginalPrice: p.OriginalPrice,
		})
	}

	deals := deal.DetectBatch(dealCandidates, dealCfg, e.cfg.GlobalMinDiscount)
	result.DealsFound = len(deals)
	if e.metrics != nil {
		for _, d := range deals {
			e.metrics.DealsDetected.WithLabelValues(cat.Store, string(d.Method)).Inc()
		}
	}

	for _, d := range deals {
		if !d.IsSignificant() {
			continue
		}
		p := byDeltaSKU[d.SKU]
		reason := string(d.Method)
		if d.IsLikelyError() {
			reason = reason + "_suspected_price_error"
		}
		_, aerr := e.alerts.Process(ctx, cat.Store, p.URL, alert.Deal{
			SKU: d.SKU, Title: d.Title, CurrentPrice: d.CurrentPrice, OriginalPrice: d.OriginalPrice,
			Method: reason, Confidence: d.Confidence, ImageURL: p.ImageURL,
		}, result.FlashSale)
		if aerr != nil {
			logger.Warn("scan", fmt.Sprintf("alert dispatch for %s/%s: %v", cat.Store, d.SKU, aerr))
		}
	}

	if err := e.delta.MarkSeen(ctx, deltaProducts, cat.Store); err != nil {
		logger.Warn("scan", fmt.Sprintf("mark delta seen for %s/%s: %v", cat.Store, cat.Name, err))
	}

	return result
}

func classifyOutcome(r fetch.Result) fetcherr.Kind {
	switch r.Outcome {
	case fetch.OutcomeBlocked:
		return fetcherr.KindBlocked
	case fetch.OutcomeTimeout:
		return fetcherr.KindTimeout
	case fetch.OutcomeParsingEmpty, fetch.OutcomePartialContentSuspect:
		return fetcherr.KindContentInvalid
	default:
		return fetcherr.KindTransient
	}
}

func toDeltaProducts(products []parser.Product) []delta.Product {
	out := make([]delta.Product, 0, len(products))
	for _, p := range products {
		out = append(out, delta.Product{SKU: p.SKU, CurrentPrice: p.CurrentPrice, OriginalPrice: p.OriginalPrice})
	}
	return out
}

func sleepJitter(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min)))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ScanMany runs every category in categories as one ScanJob, bounding
// concurrency with the category semaphore and batching the resulting
// per-category store updates in groups of db_batch_update_size, per
// batch orchestration.
func (e *Engine) ScanMany(ctx context.Context, categories []store.Category, kind store.ScanJobKind) (string, error) {
	jobID := uuid.NewString()
	if err := e.db.CreateScanJob(jobID, kind, len(categories)); err != nil {
		return "", err
	}
	if err := e.db.TransitionScanJob(jobID, store.ScanJobRunning); err != nil {
		return "", err
	}

	exclusions, err := e.db.ListProductExclusions()
	if err != nil {
		_ = e.db.TransitionScanJob(jobID, store.ScanJobFailed)
		return jobID, err
	}

	if e.metrics != nil {
		e.metrics.ActiveScans.Set(float64(len(categories)))
		defer e.metrics.ActiveScans.Set(0)
	}

	var (
		mu       sync.Mutex
		batch    []store.ScanUpdate
		wg       sync.WaitGroup
		jobFailed bool
	)

	flush := func() {
		mu.Lock()
		pending := batch
		batch = nil
		mu.Unlock()
		if len(pending) == 0 {
			return
		}
		if e.metrics != nil {
			e.metrics.RequestBatchSize.Observe(float64(len(pending)))
		}
		if err := e.db.ApplyScanUpdates(pending); err != nil {
			logger.Error("scan", fmt.Sprintf("apply scan updates: %v", err))
		}
	}

	for _, cat := range categories {
		if err := e.categorySem.Acquire(ctx, 1); err != nil {
			jobFailed = true
			break
		}
		wg.Add(1)
		go func(cat store.Category) {
			defer wg.Done()
			defer e.categorySem.Release(1)

			res := e.ScanCategory(ctx, cat, exclusions)

			update := store.ScanUpdate{CategoryID: cat.ID, LastScannedAt: time.Now(), ProductsFound: int64(res.ProductsFound), DealsFound: int64(res.DealsFound)}
			if res.Err != nil {
				update.LastError = res.Err.Error()
				update.LastErrorAt = time.Now()
				update.Disable = res.Disable
			}

			mu.Lock()
			batch = append(batch, update)
			full := len(batch) >= maxi(e.cfg.DBBatchUpdateSize, 1)
			mu.Unlock()
			if full {
				flush()
			}

			errMsg := ""
			if res.Err != nil {
				errMsg = fmt.Sprintf("%s: %v", cat.Name, res.Err)
			}
			if err := e.db.RecordScanJobProgress(jobID, int64(res.ProductsFound), int64(res.DealsFound), errMsg); err != nil {
				logger.Error("scan", fmt.Sprintf("record scan job progress: %v", err))
			}
		}(cat)
	}
	wg.Wait()
	flush()

	status := store.ScanJobCompleted
	if jobFailed {
		status = store.ScanJobFailed
	}
	if err := e.db.TransitionScanJob(jobID, status); err != nil {
		return jobID, err
	}
	return jobID, nil
}
