// Package fetch implements the fetch pipeline: execute one GET under
// a per-site policy, classify the outcome into one of the typed terminal
// states, and run content triage before declaring success. Retries run in a
// bounded attempt loop; concurrency limits are left to the caller.
package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pricewatch/internal/fetcherr"
	"pricewatch/internal/health"
)

// Outcome is the terminal classification of one fetch call.
type Outcome string

const (
	OutcomeOKHTML                Outcome = "OK_HTML"
	OutcomeOKJSON                Outcome = "OK_JSON"
	OutcomeBlocked               Outcome = "BLOCKED"
	OutcomeNotFound              Outcome = "NOT_FOUND"
	OutcomeTimeout               Outcome = "TIMEOUT"
	OutcomeRetryableNetwork      Outcome = "RETRYABLE_NETWORK"
	OutcomeParsingEmpty          Outcome = "PARSING_EMPTY"
	OutcomePartialContentSuspect Outcome = "PARTIAL_CONTENT_SUSPECT"
	// OutcomeNotModified is a 304 against a conditional request; the caller
	// (httpcache) supplies the cached body, this outcome only confirms the
	// site is live and unchanged.
	OutcomeNotModified Outcome = "NOT_MODIFIED"
)

// Policy is the per-site fetch configuration.
type Policy struct {
	MaxAttempts        int
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	Treat403AsBlocked  bool
	Treat404AsPermanent bool
	Treat206AsSuspect   bool
	BlockedURLSubstrings []string
	ProductIndicators    []string // tiny per-site selector/marker list (plain substrings)
}

// Result is the full outcome of one Fetch call.
type Result struct {
	Outcome    Outcome
	StatusCode int
	FinalURL   string
	Body       string
	BlockType  health.BlockType
	DurationMS int64
	Err        error
	Attempts   int
	Headers    http.Header
}

// Request is the input to one fetch call.
type Request struct {
	URL          string
	Store        string
	Headers      map[string]string
	ExtraHeaders map[string]string
}

var (
	botChallengePhrases = []string{
		"captcha", "cloudflare", "akamai", "incapsula", "perimeterx",
		"robot check", "enable javascript", "are you a human", "access denied",
	}
	embeddedJSONPattern = regexp.MustCompile(`(?s)<script[^>]*id=["'](__NEXT_DATA__|__INITIAL_STATE__|__PRELOADED_STATE__)["'][^>]*>(.*?)</script>`)
	jsonLDPattern        = regexp.MustCompile(`(?s)<script[^>]*type=["']application/ld\+json["'][^>]*>(.*?)</script>`)
)

// Pipeline executes fetches under per-site policy, health reporting, and
// content triage.
type Pipeline struct {
	client  *http.Client
	health  *health.Tracker
	onDebug func(store string, outcome Outcome, req Request, result Result)
}

// NewClient builds the shared, connection-pooled HTTP client the pipeline
// uses: bounded idle connections, a keepalive dialer, and TLS 1.2 minimum.
// Because the transport sets its own DialContext and TLSClientConfig
// without ForceAttemptHTTP2, it speaks HTTP/1.1 only; HTTP/2 is not
// negotiated.
func NewClient(maxConnsPerHost int, connectTimeout, keepAlive time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: keepAlive,
		}).DialContext,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:        maxConnsPerHost * 2,
		MaxIdleConnsPerHost: maxConnsPerHost,
		IdleConnTimeout:     120 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return nil // follow redirects; classification reads req.URL after following
		},
	}
}

// New constructs a Pipeline.
func New(client *http.Client, tracker *health.Tracker, onDebug func(string, Outcome, Request, Result)) *Pipeline {
	return &Pipeline{client: client, health: tracker, onDebug: onDebug}
}

func defaultHeaders() map[string]string {
	return map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
		"Sec-Fetch-Mode":  "navigate",
		"Sec-Fetch-Site":  "none",
	}
}

// HeaderSet is one realistic browser fingerprint: Accept-Language and
// Sec-Fetch-* travel together, so these are varied as a set rather than
// field-by-field.
type HeaderSet map[string]string

// RandomHeaderSource builds a headerSource func that rotates uniformly at
// random through sets on every call, the same pickUserAgent idiom the scan
// engine uses for user agents. Returns nil if sets is empty, so Fetch falls
// back to defaultHeaders alone.
func RandomHeaderSource(sets []HeaderSet) func() map[string]string {
	if len(sets) == 0 {
		return nil
	}
	return func() map[string]string {
		return sets[rand.Intn(len(sets))]
	}
}

func isRetryableStatus(status int) bool {
	switch status {
	case 500, 502, 503, 504, 520:
		return true
	default:
		return status >= 500
	}
}

func containsBlockedSubstring(url string, substrings []string) bool {
	for _, s := range substrings {
		if s != "" && strings.Contains(url, s) {
			return true
		}
	}
	return false
}

func detectBotChallenge(body string) (health.BlockType, bool) {
	lower := strings.ToLower(body)
	for _, phrase := range botChallengePhrases {
		if strings.Contains(lower, phrase) {
			return health.BlockChallenge, true
		}
	}
	return health.BlockNone, false
}

func countProductIndicators(body string, indicators []string) int {
	count := 0
	for _, ind := range indicators {
		count += strings.Count(body, ind)
	}
	return count
}

// HasEmbeddedJSON reports whether the body carries a known embedded-JSON
// payload (framework state blob or JSON-LD block).
func HasEmbeddedJSON(body string) bool {
	return embeddedJSONPattern.MatchString(body) || jsonLDPattern.MatchString(body)
}

// Fetch executes one GET against req under policy, classifying the result
// in the ordered execution loop below.
func (p *Pipeline) Fetch(ctx context.Context, req Request, policy Policy, headerSource func() map[string]string, userAgent string) Result {
	start := time.Now()
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	var wasTimeout bool

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1))*time.Second + time.Duration(rand.Int63n(int64(time.Second)))
			if err := sleepCtx(ctx, backoff); err != nil {
				return p.finish(req, Result{Outcome: OutcomeRetryableNetwork, Err: err, Attempts: attempt + 1}, start, policy)
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
		if err != nil {
			return p.finish(req, Result{Outcome: OutcomeRetryableNetwork, Err: fetcherr.New(fetcherr.KindConfigError, "fetch.build_request", err)}, start, policy)
		}
		applyHeaders(httpReq, defaultHeaders())
		if headerSource != nil {
			applyHeaders(httpReq, headerSource())
		}
		applyHeaders(httpReq, req.Headers)
		applyHeaders(httpReq, req.ExtraHeaders)
		if userAgent != "" {
			httpReq.Header.Set("User-Agent", userAgent)
		}

		resp, err := p.client.Do(httpReq)
		if err != nil {
			lastErr = err
			if ctxErr := ctx.Err(); ctxErr != nil {
				return p.finish(req, Result{Outcome: OutcomeTimeout, Err: ctxErr, Attempts: attempt + 1}, start, policy)
			}
			wasTimeout = isTimeoutErr(err)
			continue // transport error: retry
		}

		finalURL := resp.Request.URL.String()
		if containsBlockedSubstring(finalURL, policy.BlockedURLSubstrings) {
			resp.Body.Close()
			return p.finish(req, Result{Outcome: OutcomeBlocked, StatusCode: resp.StatusCode, FinalURL: finalURL, BlockType: health.Block403, Attempts: attempt + 1}, start, policy)
		}

		switch {
		case resp.StatusCode == 401 || resp.StatusCode == 403:
			resp.Body.Close()
			bt := health.Block401
			if resp.StatusCode == 403 {
				bt = health.Block403
			}
			return p.finish(req, Result{Outcome: OutcomeBlocked, StatusCode: resp.StatusCode, FinalURL: finalURL, BlockType: bt, Attempts: attempt + 1}, start, policy)

		case resp.StatusCode == 404:
			resp.Body.Close()
			return p.finish(req, Result{Outcome: OutcomeNotFound, StatusCode: resp.StatusCode, FinalURL: finalURL, Attempts: attempt + 1}, start, policy)

		case resp.StatusCode == 429:
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			if attempt == maxAttempts-1 {
				return p.finish(req, Result{Outcome: OutcomeRetryableNetwork, StatusCode: 429, FinalURL: finalURL, Attempts: attempt + 1}, start, policy)
			}
			if retryAfter > 0 {
				if err := sleepCtx(ctx, retryAfter); err != nil {
					return p.finish(req, Result{Outcome: OutcomeRetryableNetwork, Err: err, Attempts: attempt + 1}, start, policy)
				}
			}
			continue

		case resp.StatusCode == 304:
			headers := resp.Header.Clone()
			resp.Body.Close()
			return p.finish(req, Result{Outcome: OutcomeNotModified, StatusCode: 304, FinalURL: finalURL, Headers: headers, Attempts: attempt + 1}, start, policy)

		case resp.StatusCode != 206 && (resp.StatusCode < 200 || resp.StatusCode >= 300):
			resp.Body.Close()
			if isRetryableStatus(resp.StatusCode) && attempt < maxAttempts-1 {
				continue
			}
			return p.finish(req, Result{Outcome: OutcomeRetryableNetwork, StatusCode: resp.StatusCode, FinalURL: finalURL, Attempts: attempt + 1}, start, policy)
		}

		body, readErr := io.ReadAll(resp.Body)
		headers := resp.Header.Clone()
		resp.Body.Close()
		if readErr != nil && !(resp.StatusCode == 206 && errors.Is(readErr, io.ErrUnexpectedEOF)) {
			lastErr = readErr
			continue
		}

		if resp.StatusCode == 206 {
			noRangeSent := req.Headers["Range"] == "" && req.ExtraHeaders["Range"] == ""
			suspect := noRangeSent
			if cl := resp.Header.Get("Content-Length"); cl != "" {
				if n, err := strconv.Atoi(cl); err == nil && n > 0 && float64(len(body)) < 0.9*float64(n) {
					suspect = true
				}
			}
			if suspect {
				return p.finish(req, Result{Outcome: OutcomePartialContentSuspect, StatusCode: 206, FinalURL: finalURL, Body: string(body), Headers: headers, Attempts: attempt + 1}, start, policy)
			}
		}

		bodyStr := string(bytes.TrimSpace(body))
		if bt, blocked := detectBotChallenge(bodyStr); blocked {
			return p.finish(req, Result{Outcome: OutcomeBlocked, StatusCode: resp.StatusCode, FinalURL: finalURL, BlockType: bt, Body: bodyStr, Headers: headers, Attempts: attempt + 1}, start, policy)
		}

		outcome := OutcomeOKHTML
		if HasEmbeddedJSON(bodyStr) {
			outcome = OutcomeOKJSON
		}

		if countProductIndicators(bodyStr, policy.ProductIndicators) == 0 && len(policy.ProductIndicators) > 0 {
			return p.finish(req, Result{Outcome: OutcomeParsingEmpty, StatusCode: resp.StatusCode, FinalURL: finalURL, Body: bodyStr, Headers: headers, Attempts: attempt + 1}, start, policy)
		}

		return p.finish(req, Result{Outcome: outcome, StatusCode: resp.StatusCode, FinalURL: finalURL, Body: bodyStr, Headers: headers, Attempts: attempt + 1}, start, policy)
	}

	outcome := OutcomeRetryableNetwork
	if wasTimeout {
		outcome = OutcomeTimeout
	}
	return p.finish(req, Result{Outcome: outcome, Err: lastErr, Attempts: maxAttempts}, start, policy)
}

func (p *Pipeline) finish(req Request, result Result, start time.Time, policy Policy) Result {
	result.DurationMS = time.Since(start).Milliseconds()

	success := result.Outcome == OutcomeOKHTML || result.Outcome == OutcomeOKJSON || result.Outcome == OutcomeNotModified
	if p.health != nil {
		p.health.Record(req.Store, health.Outcome{
			Timestamp:  time.Now(),
			Success:    success,
			DurationMS: result.DurationMS,
			StatusCode: result.StatusCode,
			Blocked:    result.Outcome == OutcomeBlocked,
			BlockType:  result.BlockType,
			Was429:     result.StatusCode == 429,
		})
	}
	if !success && p.onDebug != nil {
		p.onDebug(req.Store, result.Outcome, req, result)
	}
	return result
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		return time.Until(when)
	}
	return 0
}

func isTimeoutErr(err error) bool {
	var ne net.Error
	if ok := asNetError(err, &ne); ok {
		return ne.Timeout()
	}
	return false
}

func asNetError(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
