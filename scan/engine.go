// Package scan implements the browser-driven scan engine (C6): given a
// fresh browsing context with the redirect limiter already installed, it
// drives one navigation to completion and reconstructs the domain's
// redirect chain and related-domain set.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/domainrecon/browser"
	"github.com/use-agent/domainrecon/config"
	"github.com/use-agent/domainrecon/models"
)

const loopDetectedStatus = 508

// trackerSubstrings names hosts that are filtered out of the related-domains
// result set.
var trackerSubstrings = []string{"doubleclick", "google"}

// state is the single-writer owner of all mutable bookkeeping for one scan.
// Every page event handler runs on the CDP dispatch goroutine serially, so a
// single owner with no internal locking is sufficient — concurrent scans
// each get their own state, never sharing one.
type state struct {
	originHost     string
	maxDomains     int
	maxRedirectLog int

	inflight     int
	lastChangeTS time.Time

	seenDomains    map[string]struct{}
	droppedDomains int

	redirectLog []models.RedirectStep
}

func newState(originHost string, cfg config.ScanConfig) *state {
	return &state{
		originHost:     originHost,
		maxDomains:     cfg.MaxDomains,
		maxRedirectLog: cfg.MaxRedirectLog,
		seenDomains:    map[string]struct{}{originHost: {}},
		lastChangeTS:   time.Now(),
	}
}

func (s *state) recordHost(rawURL string) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return
	}
	host := u.Hostname()
	if _, ok := s.seenDomains[host]; ok {
		return
	}
	if len(s.seenDomains) >= s.maxDomains {
		s.droppedDomains++
		return
	}
	s.seenDomains[host] = struct{}{}
}

func (s *state) onRequest(e *proto.NetworkRequestWillBeSent) {
	s.inflight++
	s.lastChangeTS = time.Now()
	s.recordHost(e.Request.URL)

	if e.Type == proto.NetworkResourceTypeDocument && e.RedirectResponse != nil {
		s.appendRedirectHop(e)
	}
}

func (s *state) onResponse(e *proto.NetworkResponseReceived) {
	if s.inflight > 0 {
		s.inflight--
	}
	s.lastChangeTS = time.Now()
	s.recordHost(e.Response.URL)
}

func (s *state) onDownload(e *proto.PageDownloadWillBegin) {
	// Downloads are logged and ignored; they are not scan failures.
	slog.Info("scan: download ignored", "url", e.URL)
}

// appendRedirectHop records one hop of a document-level redirect chain.
// CDP fires a fresh Network.requestWillBeSent for every hop, each carrying
// the response that caused it in redirectResponse — so a single event
// yields exactly one {from, to, status} hop, not a chain to walk.
func (s *state) appendRedirectHop(e *proto.NetworkRequestWillBeSent) {
	hop := models.RedirectStep{
		From:   e.RedirectResponse.URL,
		To:     e.Request.URL,
		Status: e.RedirectResponse.Status,
	}

	if s.isDuplicateHop(hop) {
		return
	}
	if len(s.redirectLog) >= s.maxRedirectLog {
		return
	}
	s.redirectLog = append(s.redirectLog, hop)
}

func (s *state) isDuplicateHop(hop models.RedirectStep) bool {
	for _, existing := range s.redirectLog {
		if existing.From == hop.From && existing.To == hop.To {
			return true
		}
	}
	return false
}

// relatedDomains returns the sorted, tracker-filtered host set with the
// origin hostname guaranteed present.
func (s *state) relatedDomains() []string {
	out := make([]string, 0, len(s.seenDomains))
	for host := range s.seenDomains {
		if isTrackerDomain(host) {
			continue
		}
		out = append(out, host)
	}
	sort.Strings(out)

	for _, h := range out {
		if h == s.originHost {
			return out
		}
	}
	return append([]string{s.originHost}, out...)
}

func isTrackerDomain(host string) bool {
	for _, sub := range trackerSubstrings {
		if strings.Contains(host, sub) {
			return true
		}
	}
	return false
}

// Engine runs scans against a shared browser pool.
type Engine struct {
	pool *browser.Pool
	cfg  config.ScanConfig
}

// New creates a scan Engine bound to the given browser pool.
func New(pool *browser.Pool, cfg config.ScanConfig) *Engine {
	return &Engine{pool: pool, cfg: cfg}
}

// Scan drives one browser navigation to startURL to completion, returning
// the reconstructed ScanResult. originHost is the normalised hostname the
// scan was requested for; it anchors related-domain and redirect-chain
// bookkeeping even if the browser ends up somewhere else entirely.
func (e *Engine) Scan(ctx context.Context, startURL, originHost string) (*models.ScanResult, error) {
	b, err := e.pool.Acquire()
	if err != nil {
		return nil, err
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewReconError(models.ErrCodeInternal, "failed to create browsing context", err)
	}

	disconnected := false
	defer func() {
		if cerr := page.Close(); cerr != nil {
			disconnected = true
		}
		if disconnected {
			e.pool.ReportDisconnected()
		}
	}()

	if err := configureContext(page); err != nil {
		return nil, models.NewReconError(models.ErrCodeNavigation, "failed to configure browsing context", err)
	}

	router := browser.InstallRedirectLimiter(page, e.cfg)
	defer func() { _ = router.Stop() }()

	st := newState(originHost, e.cfg)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.NavTimeout)
	defer cancel()
	p := page.Context(ctx)

	stopRequest := p.EachEvent(func(e *proto.NetworkRequestWillBeSent) { st.onRequest(e) })
	stopResponse := p.EachEvent(func(e *proto.NetworkResponseReceived) { st.onResponse(e) })
	stopDownload := p.EachEvent(func(e *proto.PageDownloadWillBegin) { st.onDownload(e) })
	defer stopRequest()
	defer stopResponse()
	defer stopDownload()

	navErr := p.Navigate(startURL)
	if navErr != nil && !strings.Contains(navErr.Error(), "Download is starting") {
		if errors.Is(navErr, context.DeadlineExceeded) {
			return nil, models.NewReconError(models.ErrCodeTimeout, "navigation timed out", navErr)
		}
		return nil, models.NewReconError(models.ErrCodeNavigation, "navigation failed", navErr)
	}

	if status := navigationStatus(p); isLoopSentinel(status) {
		return nil, models.NewReconError(models.ErrCodeBlocked, fmt.Sprintf("Too many redirects (%d)", e.cfg.MaxRedirectSteps), nil)
	}

	if err := e.settle(ctx, st); err != nil {
		return nil, err
	}

	finalURL := evalStringOrEmpty(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = startURL
	}

	if len(st.redirectLog) > e.cfg.MaxRedirectSteps {
		return nil, models.NewReconError(models.ErrCodeBlocked, fmt.Sprintf("Too many redirects (%d)", len(st.redirectLog)), nil)
	}

	return &models.ScanResult{
		FinalURL:       finalURL,
		RelatedDomains: st.relatedDomains(),
		RedirectChain:  st.redirectLog,
		DroppedDomains: st.droppedDomains,
	}, nil
}

// settle polls every 100ms until either the network has been quiet for
// QuietWindow or the navigation's overall timeout is exhausted.
func (e *Engine) settle(ctx context.Context, st *state) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil // budget exhausted; proceed with whatever state we have
		case <-ticker.C:
			if st.inflight == 0 && time.Since(st.lastChangeTS) >= e.cfg.QuietWindow {
				return nil
			}
		}
	}
}

// configureContext sets user-agent, locale, timezone, and permits download
// navigations without crashing the session.
func configureContext(page *rod.Page) error {
	if _, err := (proto.EmulationSetLocaleOverride{Locale: "en-US"}).Call(page); err != nil {
		return err
	}
	if _, err := (proto.EmulationSetTimezoneOverride{TimezoneID: "UTC"}).Call(page); err != nil {
		return err
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
	}); err != nil {
		return err
	}
	_, err := proto.PageSetDownloadBehavior{Behavior: proto.PageSetDownloadBehaviorBehaviorAllow}.Call(page)
	return err
}

func evalStringOrEmpty(p *rod.Page, js string) string {
	res, err := p.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// navigationStatus reads the HTTP status of the top-level navigation via the
// Navigation Timing API, avoiding a dependency on CDP response-event
// listeners that can race with the redirect limiter's Fetch-domain hijack.
func navigationStatus(p *rod.Page) int {
	res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch (e) {}
		return 0;
	}`)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

// isLoopSentinel reports whether a navigation response carries the redirect
// limiter's synthetic 508 status.
func isLoopSentinel(status int) bool {
	return status == loopDetectedStatus
}
