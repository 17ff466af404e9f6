// Package collyfetcher implements novel.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/serial-archiver/internal/metrics"
	"github.com/JakeFAU/serial-archiver/internal/novel"
	"github.com/JakeFAU/serial-archiver/internal/platform"
)

// Config controls collector behavior and retry timing.
type Config struct {
	UserAgent         string
	Cookie            string
	DetailTimeout     time.Duration
	UnitTimeout       time.Duration
	ImageTimeout      time.Duration
	MaxAttempts       int
	DetailBackoff     time.Duration
	UnitBackoff       time.Duration
	TimeoutRetryDelay time.Duration
	BaseURLs          map[novel.Platform]string
}

func (c Config) withDefaults() Config {
	if c.DetailTimeout <= 0 {
		c.DetailTimeout = 20 * time.Second
	}
	if c.UnitTimeout <= 0 {
		c.UnitTimeout = 12 * time.Second
	}
	if c.ImageTimeout <= 0 {
		c.ImageTimeout = c.UnitTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.DetailBackoff <= 0 {
		c.DetailBackoff = time.Second
	}
	if c.UnitBackoff <= 0 {
		c.UnitBackoff = time.Second
	}
	if c.TimeoutRetryDelay <= 0 {
		c.TimeoutRetryDelay = 300 * time.Millisecond
	}
	return c
}

// Limiter throttles outbound requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

type operation string

const (
	opDetail  operation = "detail"
	opListing operation = "listing"
	opContent operation = "content"
	opImage   operation = "image"
)

// Fetcher implements novel.Fetcher and novel.ImageFetcher on top of Colly.
// Each operation owns a base collector so per-request timeouts never mutate
// a backend shared with another operation.
type Fetcher struct {
	cfg        Config
	collectors map[operation]*colly.Collector
	limiter    Limiter
	clock      novel.Clock
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Limiter, clock novel.Clock, logger *zap.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := newHTTPTransport()
	timeouts := map[operation]time.Duration{
		opDetail:  cfg.DetailTimeout,
		opListing: cfg.DetailTimeout,
		opContent: cfg.UnitTimeout,
		opImage:   cfg.ImageTimeout,
	}
	collectors := make(map[operation]*colly.Collector, len(timeouts))
	for op, timeout := range timeouts {
		c := colly.NewCollector(colly.Async(false))
		c.AllowURLRevisit = true
		c.IgnoreRobotsTxt = true
		c.ParseHTTPErrorResponse = true
		c.DetectCharset = op != opImage
		c.WithTransport(transport)
		c.SetRequestTimeout(timeout)
		collectors[op] = c
	}
	return &Fetcher{
		cfg:        cfg,
		collectors: collectors,
		limiter:    limiter,
		clock:      clock,
		logger:     logger,
	}
}

// ListingPageSize returns the number of units per listing page for p.
func (f *Fetcher) ListingPageSize(p novel.Platform) int {
	s, err := platform.Lookup(p)
	if err != nil {
		return 0
	}
	return s.PageSize
}

// FetchWorkDetail fetches and parses a work's summary page. Non-terminal
// failures that outlast the retry budget yield a degraded stub, not an error.
func (f *Fetcher) FetchWorkDetail(ctx context.Context, ref novel.WorkRef) (novel.Work, error) {
	s, err := f.strategy(ref.Platform)
	if err != nil {
		return novel.Work{}, novel.NewFetchError("work detail", ref, 0, err)
	}
	target, err := s.DetailURL(ref.WorkID)
	if err != nil {
		return novel.Work{}, novel.NewFetchError("work detail", ref, 0, err)
	}

	work, attempts, err := novel.Retry(ctx, f.policy(ref, opDetail), func(ctx context.Context, _ int) (novel.Work, error) {
		doc, err := f.document(ctx, opDetail, target)
		if err != nil {
			return novel.Work{}, err
		}
		if err := s.Terminal(doc); err != nil {
			return novel.Work{}, err
		}
		return s.Detail(doc)
	})
	if err == nil {
		work.WorkRef = ref
		work.FetchedAt = f.now()
		return work, nil
	}
	if novel.IsTerminal(err) {
		return novel.Work{}, novel.NewFetchError("work detail", ref, attempts, err)
	}

	f.logger.Warn("work detail exhausted retries, returning degraded stub",
		zap.String("work", ref.String()),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return novel.DegradedStub(ref, err.Error(), f.now()), nil
}

// FetchUnitListingPage fetches one zero-based listing page.
func (f *Fetcher) FetchUnitListingPage(ctx context.Context, ref novel.WorkRef, pageNo int) ([]novel.Unit, error) {
	s, err := f.strategy(ref.Platform)
	if err != nil {
		return nil, novel.NewFetchError("unit listing", ref, 0, err)
	}
	target, err := s.ListingURL(ref.WorkID, pageNo)
	if err != nil {
		return nil, novel.NewFetchError("unit listing", ref, 0, err)
	}

	units, attempts, err := novel.Retry(ctx, f.policy(ref, opListing), func(ctx context.Context, _ int) ([]novel.Unit, error) {
		doc, err := f.document(ctx, opListing, target)
		if err != nil {
			return nil, err
		}
		if err := s.Terminal(doc); err != nil {
			return nil, err
		}
		return s.Listing(doc)
	})
	if err != nil {
		return nil, novel.NewFetchError(fmt.Sprintf("unit listing page %d", pageNo), ref, attempts, err)
	}
	for i := range units {
		units[i].WorkID = ref.WorkID
	}
	return units, nil
}

// FetchUnitContent fetches one unit body. Exhausted retries are returned as
// a *novel.FetchError.
func (f *Fetcher) FetchUnitContent(ctx context.Context, ref novel.WorkRef, unitID string) (novel.UnitContent, error) {
	s, err := f.strategy(ref.Platform)
	if err != nil {
		return novel.UnitContent{}, novel.NewFetchError("unit content", ref, 0, err)
	}
	target, err := s.ContentURL(ref.WorkID, unitID)
	if err != nil {
		return novel.UnitContent{}, novel.NewFetchError("unit content", ref, 0, err)
	}

	content, attempts, err := novel.Retry(ctx, f.policy(ref, opContent), func(ctx context.Context, _ int) (novel.UnitContent, error) {
		doc, err := f.document(ctx, opContent, target)
		if err != nil {
			return novel.UnitContent{}, err
		}
		if err := s.Terminal(doc); err != nil {
			return novel.UnitContent{}, err
		}
		return s.Content(doc)
	})
	if err != nil {
		return novel.UnitContent{}, novel.NewFetchError("unit content "+unitID, ref, attempts, err)
	}
	return content, nil
}

// FetchImage downloads an embedded image and returns its bytes and content type.
func (f *Fetcher) FetchImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, "", fmt.Errorf("image %q: %w", rawURL, novel.ErrInvalidID)
	}
	policy := novel.RetryPolicy{
		MaxAttempts: f.cfg.MaxAttempts,
		Backoff:     novel.TimeoutAwareBackoff(f.cfg.UnitBackoff, f.cfg.TimeoutRetryDelay),
		Sleep:       f.sleep,
	}
	p, _, err := novel.Retry(ctx, policy, func(ctx context.Context, _ int) (page, error) {
		p, err := f.get(ctx, opImage, rawURL)
		metrics.ObserveFetchAttempt(metrics.SanitizeSite(rawURL), string(opImage), resultLabel(err))
		return p, err
	})
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	return p.Body, p.Headers.Get("Content-Type"), nil
}

func (f *Fetcher) strategy(p novel.Platform) (platform.Strategy, error) {
	s, err := platform.Lookup(p)
	if err != nil {
		return platform.Strategy{}, fmt.Errorf("lookup strategy: %w", err)
	}
	return s.WithBaseURL(f.cfg.BaseURLs[p]), nil
}

func (f *Fetcher) policy(ref novel.WorkRef, op operation) novel.RetryPolicy {
	backoff := novel.LinearBackoff(f.cfg.DetailBackoff)
	if op == opContent {
		backoff = novel.TimeoutAwareBackoff(f.cfg.UnitBackoff, f.cfg.TimeoutRetryDelay)
	}
	return novel.RetryPolicy{
		MaxAttempts: f.cfg.MaxAttempts,
		Backoff:     backoff,
		Sleep:       f.sleep,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			f.logger.Debug("retrying fetch",
				zap.String("work", ref.String()),
				zap.String("op", string(op)),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
	}
}

func (f *Fetcher) document(ctx context.Context, op operation, target string) (*goquery.Document, error) {
	p, err := f.get(ctx, op, target)
	metrics.ObserveFetchAttempt(metrics.SanitizeSite(target), string(op), resultLabel(err))
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", target, novel.ErrParse)
	}
	if u, err := url.Parse(target); err == nil {
		doc.Url = u
	}
	return doc, nil
}

// get executes a single GET and maps HTTP status codes onto the error taxonomy.
func (f *Fetcher) get(ctx context.Context, op operation, target string) (page, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, target); err != nil {
			return page{}, err
		}
	}

	var (
		result   page
		fetchErr error
	)
	collector := f.collectors[op].Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	f.configureCollectorHooks(collector, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return page{}, err
	}
	return result, statusError(result.StatusCode)
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *page, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		if f.cfg.Cookie != "" {
			r.Headers.Set("Cookie", f.cfg.Cookie)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) now() time.Time {
	if f.clock == nil {
		return time.Now().UTC()
	}
	return f.clock.Now()
}

func statusError(code int) error {
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("status %d: %w", code, novel.ErrNotFound)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("status %d: %w", code, novel.ErrLoginRequired)
	case code >= http.StatusBadRequest:
		return fmt.Errorf("unexpected status %d", code)
	default:
		return nil
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case novel.IsTimeout(err):
		return "timeout"
	case novel.IsTerminal(err):
		return "terminal"
	default:
		return "error"
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
