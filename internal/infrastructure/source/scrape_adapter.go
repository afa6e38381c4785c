package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/esports/backend/internal/domain/stats"
	"github.com/esports/backend/internal/infrastructure/config"
	"github.com/esports/backend/internal/infrastructure/retry"
)

// stealthScript masks the obvious headless-automation signals before any
// page script runs. The target site serves degraded markup to detected
// bots.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3]});
window.chrome = window.chrome || {runtime: {}};
`

// extractScript snapshots the parts of a wiki page the extraction
// strategies consume: the title, infobox rows, per-section link texts,
// and the full content link list.
const extractScript = `
(() => {
	const text = (el) => (el ? el.textContent.trim() : "");
	const result = {
		title: text(document.querySelector("h1")) || document.title,
		noArticle: !!document.querySelector(".noarticletext"),
		infobox: {},
		sections: {},
		links: [],
	};
	document.querySelectorAll("table.infobox tr").forEach((tr) => {
		const th = tr.querySelector("th");
		const td = tr.querySelector("td");
		if (th && td) result.infobox[text(th)] = text(td);
	});
	document.querySelectorAll("div.infobox-description").forEach((d) => {
		const v = d.nextElementSibling;
		if (v) result.infobox[text(d).replace(/:$/, "")] = text(v);
	});
	document.querySelectorAll("h2, h3").forEach((h) => {
		const items = [];
		let node = h.nextElementSibling;
		while (node && !/^H[23]$/.test(node.tagName)) {
			node.querySelectorAll("a").forEach((a) => {
				const t = text(a);
				if (t) items.push(t);
			});
			node = node.nextElementSibling;
		}
		if (items.length) result.sections[text(h)] = items;
	});
	document.querySelectorAll("#mw-content-text a, #content a").forEach((a) => {
		const t = text(a);
		if (t) result.links.push(t);
	});
	return result;
})()
`

// ScrapeAdapter drives a headless browser against the wiki-style stats
// site. The browser session is one scoped resource: acquired lazily on
// first use, released on Close, re-acquired when a fetch fails on a dead
// session. All page fetches are serialized behind it.
type ScrapeAdapter struct {
	cfg        config.ScrapeSourceConfig
	logger     *zap.Logger
	health     *sourceHealth
	httpClient *http.Client

	// sessionMu serializes every browser interaction and guards the
	// session fields and the inter-request clock.
	sessionMu     sync.Mutex
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	lastFetch     time.Time
}

var _ stats.SourceAdapter = (*ScrapeAdapter)(nil)

// NewScrapeAdapter creates the scraper. No browser is launched until the
// first page fetch.
func NewScrapeAdapter(cfg config.ScrapeSourceConfig, logger *zap.Logger) *ScrapeAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScrapeAdapter{
		cfg:        cfg,
		logger:     logger.Named("scrape"),
		health:     newSourceHealth(),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Name returns the source identifier.
func (a *ScrapeAdapter) Name() stats.SourceName {
	return stats.SourceScrape
}

// Supports reports the kinds the wiki serves pages for.
func (a *ScrapeAdapter) Supports(kind stats.EntityKind) bool {
	switch kind {
	case stats.KindTeam, stats.KindTournament:
		return true
	default:
		return false
	}
}

// FetchEntity fetches and extracts one wiki page. The key is the page
// name, e.g. "Team_Spirit" or "The_International/2026".
func (a *ScrapeAdapter) FetchEntity(ctx context.Context, kind stats.EntityKind, key string) (*stats.SourceRecord, error) {
	if !a.Supports(kind) {
		return nil, stats.ErrUnsupportedKind
	}
	if key == "" {
		return nil, stats.ErrInvalidEntityKey
	}

	snapshot, err := a.fetchPage(ctx, key)
	if err != nil {
		return nil, err
	}

	for _, strategy := range strategiesFor(kind) {
		payload, ok := strategy.extract(snapshot)
		if !ok {
			continue
		}
		a.logger.Debug("extraction strategy succeeded",
			zap.String("strategy", strategy.name),
			zap.String("page", key))
		return &stats.SourceRecord{
			Source:    stats.SourceScrape,
			Kind:      kind,
			Key:       key,
			Payload:   payload,
			FetchedAt: time.Now(),
		}, nil
	}

	// The page exists but none of the strategies produced a plausible
	// payload; treat it the same as a missing page.
	return nil, stats.ErrNotFound
}

// Search uses the wiki's opensearch JSON endpoint instead of the
// browser; it is the one stable API the site exposes.
func (a *ScrapeAdapter) Search(ctx context.Context, kind stats.EntityKind, query string, limit int) ([]stats.SourceRecord, error) {
	if !a.Supports(kind) {
		return nil, stats.ErrUnsupportedKind
	}
	if limit <= 0 {
		limit = 10
	}

	names, err := a.openSearch(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	records := make([]stats.SourceRecord, 0, len(names))
	for _, name := range names {
		if !plausibleName(name) {
			continue
		}
		records = append(records, stats.SourceRecord{
			Source:    stats.SourceScrape,
			Kind:      kind,
			Key:       strings.ReplaceAll(name, " ", "_"),
			Payload:   map[string]any{stats.FieldName: name},
			FetchedAt: now,
		})
	}
	return records, nil
}

// TestConnection probes the opensearch endpoint; launching a browser
// just to health-check would be wasteful.
func (a *ScrapeAdapter) TestConnection(ctx context.Context) bool {
	_, err := a.openSearch(ctx, "team", 1)
	return err == nil
}

// Status returns the adapter's health snapshot.
func (a *ScrapeAdapter) Status() stats.SourceStatus {
	return a.health.snapshot(stats.SourceScrape)
}

// Close releases the browser session.
func (a *ScrapeAdapter) Close() error {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	a.releaseSession()
	return nil
}

// ----------------------------------------------------------------------
// Browser session
// ----------------------------------------------------------------------

// fetchPage navigates to one wiki page and returns its structured
// snapshot. Fetches retry with exponential backoff; a fixed minimum
// delay separates consecutive fetches regardless of outcome.
func (a *ScrapeAdapter) fetchPage(ctx context.Context, pageName string) (*scrapedPage, error) {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()

	if wait := time.Until(a.lastFetch.Add(a.cfg.MinRequestDelay)); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	defer func() { a.lastFetch = time.Now() }()

	pageURL := a.cfg.BaseURL + "/" + url.PathEscape(pageName)

	var snapshot scrapedPage
	err := retry.Do(ctx, a.cfg.FetchRetries, a.cfg.RetryBaseDelay, retry.BackoffExponential, func(ctx context.Context) error {
		if err := a.ensureSession(); err != nil {
			return err
		}

		a.health.recordRequest()
		runCtx, cancel := pageRunContext(ctx, a.browserCtx, a.cfg.RequestTimeout)
		defer cancel()

		err := chromedp.Run(runCtx,
			chromedp.Navigate(pageURL),
			chromedp.WaitReady("body"),
			chromedp.Evaluate(extractScript, &snapshot),
		)
		if err != nil {
			if isDeadSession(err) {
				a.logger.Warn("browser session lost, re-acquiring", zap.Error(err))
				a.releaseSession()
			}
			return fmt.Errorf("%w: fetching %s: %v", stats.ErrUnavailable, pageName, err)
		}
		return nil
	})
	if err != nil {
		a.health.recordFailure()
		return nil, err
	}

	if snapshot.NoArticle {
		return nil, stats.ErrNotFound
	}
	a.health.recordSuccess()
	return &snapshot, nil
}

// pageRunContext bounds one navigation by the request timeout and by
// the caller's cancellation. The browser context alone outlives both,
// so a navigation context derived from it only would ignore the caller
// until the attempt finished.
func pageRunContext(callerCtx, browserCtx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(browserCtx, timeout)
	unwatch := context.AfterFunc(callerCtx, cancel)
	return runCtx, func() {
		unwatch()
		cancel()
	}
}

// ensureSession lazily launches the browser and injects the stealth
// script. Callers hold sessionMu.
func (a *ScrapeAdapter) ensureSession() error {
	if a.browserCtx != nil && a.browserCtx.Err() == nil {
		return nil
	}
	a.releaseSession()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", a.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if a.cfg.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}

	a.allocCtx, a.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(a.allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			a.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	}))
	if err != nil {
		browserCancel()
		a.allocCancel()
		a.allocCtx, a.allocCancel = nil, nil
		return fmt.Errorf("%w: launching browser: %v", stats.ErrUnavailable, err)
	}

	a.browserCtx, a.browserCancel = browserCtx, browserCancel
	a.logger.Info("browser session acquired")
	return nil
}

// releaseSession tears down the browser. Callers hold sessionMu.
func (a *ScrapeAdapter) releaseSession() {
	if a.browserCancel != nil {
		a.browserCancel()
		a.browserCancel = nil
		a.browserCtx = nil
	}
	if a.allocCancel != nil {
		a.allocCancel()
		a.allocCancel = nil
		a.allocCtx = nil
	}
}

// isDeadSession reports whether err means the browser process or its
// DevTools connection is gone, as opposed to a page-level failure.
func isDeadSession(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "browser closed") ||
		strings.Contains(msg, "process exited")
}

// ----------------------------------------------------------------------
// opensearch
// ----------------------------------------------------------------------

// openSearch queries the wiki's opensearch endpoint. The response is a
// four-element array; the second element holds matching page titles.
func (a *ScrapeAdapter) openSearch(ctx context.Context, query string, limit int) ([]string, error) {
	params := url.Values{
		"action": {"opensearch"},
		"search": {query},
		"limit":  {fmt.Sprint(limit)},
		"format": {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/api.php?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stats.ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	a.health.recordRequest()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.health.recordFailure()
		return nil, fmt.Errorf("%w: %v", stats.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		a.health.recordFailure()
		return nil, fmt.Errorf("%w: opensearch status %d", stats.ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		a.health.recordFailure()
		return nil, fmt.Errorf("%w: %v", stats.ErrUnavailable, err)
	}

	var envelope []json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope) < 2 {
		a.health.recordFailure()
		return nil, fmt.Errorf("%w: malformed opensearch response", stats.ErrUnavailable)
	}
	var names []string
	if err := json.Unmarshal(envelope[1], &names); err != nil {
		a.health.recordFailure()
		return nil, fmt.Errorf("%w: malformed opensearch titles", stats.ErrUnavailable)
	}

	a.health.recordSuccess()
	return names, nil
}
