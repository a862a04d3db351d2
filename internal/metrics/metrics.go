// Package metrics wires the runtime's counters, gauges, and histograms
// into a prometheus.Registry for external scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics owns every named series the core emits.
type Metrics struct {
	Registry *prometheus.Registry

	ScanAttempts      *prometheus.CounterVec // store
	ScanDuration      *prometheus.HistogramVec // store
	ProductsDiscovered *prometheus.CounterVec // store
	DealsDetected     *prometheus.CounterVec // store, method
	HTTPErrors        *prometheus.CounterVec // store, code
	ScanBlocks        *prometheus.CounterVec // store, block_type
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	DeltaSkipped      *prometheus.CounterVec // store
	DeltaChanged      *prometheus.CounterVec // store
	Proxy403s         *prometheus.CounterVec // proxy_id
	ProxyStrikes      *prometheus.GaugeVec   // proxy_id
	StoreErrorRate    *prometheus.GaugeVec   // store
	RecommendedDelay  *prometheus.GaugeVec   // store
	ActiveScans       prometheus.Gauge
	FetchAttempts     prometheus.Counter
	FetchSuccess      prometheus.Counter
	FetchFallback     prometheus.Counter
	NewProductsFound  *prometheus.CounterVec // store, category
	RequestBatchSize  prometheus.Histogram
}

// New constructs and registers every series under namespace "pricewatch".
func New() *Metrics {
	reg := prometheus.NewRegistry()
	ns := "pricewatch"

	m := &Metrics{
		Registry: reg,
		ScanAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "scan_attempts_total", Help: "Category scans attempted per store.",
		}, []string{"store"}),
		ScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "scan_duration_seconds", Help: "Category scan durations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"store"}),
		ProductsDiscovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "products_discovered_total", Help: "Products discovered per store.",
		}, []string{"store"}),
		DealsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "deals_detected_total", Help: "Deals detected per store and method.",
		}, []string{"store", "method"}),
		HTTPErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "http_errors_total", Help: "HTTP errors by store and status code.",
		}, []string{"store", "code"}),
		ScanBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "scan_blocks_total", Help: "Blocked fetches by store and block type.",
		}, []string{"store", "block_type"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "cache_hits_total", Help: "HTTP cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "cache_misses_total", Help: "HTTP cache misses.",
		}),
		DeltaSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "delta_skipped_total", Help: "Products skipped as unchanged, by store.",
		}, []string{"store"}),
		DeltaChanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "delta_changed_total", Help: "Products passing the delta filter, by store.",
		}, []string{"store"}),
		Proxy403s: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "proxy_403_total", Help: "403 responses observed per proxy.",
		}, []string{"proxy_id"}),
		ProxyStrikes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "proxy_consecutive_strikes", Help: "Current consecutive-403 strike count per proxy.",
		}, []string{"proxy_id"}),
		StoreErrorRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "store_error_rate", Help: "Rolling-window error rate per store.",
		}, []string{"store"}),
		RecommendedDelay: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "recommended_delay_seconds", Help: "Recommended fetch delay per store.",
		}, []string{"store"}),
		ActiveScans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "active_scans", Help: "Category scans currently in flight.",
		}),
		FetchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "fetch_strategy_attempts_total", Help: "Fetch attempts across all strategies.",
		}),
		FetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "fetch_strategy_success_total", Help: "Fetch attempts that reached a 2xx outcome.",
		}),
		FetchFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "fetch_strategy_fallback_total", Help: "Fetch attempts that fell back to a secondary strategy.",
		}),
		NewProductsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "new_products_detected_total", Help: "Newly-appearing SKUs found per store/category.",
		}, []string{"store", "category"}),
		RequestBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "request_batch_size", Help: "Size of DB batch updates.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),
	}

	reg.MustRegister(
		m.ScanAttempts, m.ScanDuration, m.ProductsDiscovered, m.DealsDetected, m.HTTPErrors,
		m.ScanBlocks, m.CacheHits, m.CacheMisses, m.DeltaSkipped, m.DeltaChanged, m.Proxy403s,
		m.ProxyStrikes, m.StoreErrorRate, m.RecommendedDelay, m.ActiveScans, m.FetchAttempts,
		m.FetchSuccess, m.FetchFallback, m.NewProductsFound, m.RequestBatchSize,
	)
	return m
}
