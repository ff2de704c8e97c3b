package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/use-agent/domainrecon/config"
	"github.com/use-agent/domainrecon/models"
)

type fakeCache struct {
	entries map[string]*models.CacheEntry
	upserts int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]*models.CacheEntry{}}
}

func (f *fakeCache) Lookup(domain string) (*models.CacheEntry, bool) {
	e, ok := f.entries[domain]
	return e, ok
}

func (f *fakeCache) Upsert(domain string, result *models.ScanResult) error {
	f.upserts++
	f.entries[domain] = &models.CacheEntry{
		Domain:         domain,
		FinalURL:       result.FinalURL,
		RelatedDomains: result.RelatedDomains,
		RedirectChain:  result.RedirectChain,
		UpdatedAt:      1000,
		TTLAt:          2000,
	}
	return nil
}

type fakeChecker struct {
	result *models.PrecheckResult
}

func (f *fakeChecker) Run(ctx context.Context, startURL string) *models.PrecheckResult {
	return f.result
}

type fakeEngine struct {
	result *models.ScanResult
	err    error
	calls  int
}

func (f *fakeEngine) Scan(ctx context.Context, startURL, originHost string) (*models.ScanResult, error) {
	f.calls++
	return f.result, f.err
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Concurrency: 2, HardTimeout: 5 * time.Second},
	}
}

func TestResolve_CacheHit(t *testing.T) {
	c := newFakeCache()
	c.entries["example.com"] = &models.CacheEntry{
		Domain:   "example.com",
		FinalURL: "https://example.com/",
		UpdatedAt: 100, TTLAt: 200,
	}
	o := New(c, &fakeChecker{}, &fakeEngine{}, testConfig())

	resp, err := o.Resolve(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if !resp.Cached {
		t.Error("expected Cached=true")
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
}

func TestResolve_BadDomain(t *testing.T) {
	o := New(newFakeCache(), &fakeChecker{}, &fakeEngine{}, testConfig())

	_, err := o.Resolve(context.Background(), "")
	if err == nil {
		t.Fatal("expected error for empty domain")
	}
}

func TestResolve_PrecheckOK_ScansAndCaches(t *testing.T) {
	c := newFakeCache()
	checker := &fakeChecker{result: &models.PrecheckResult{Class: models.PrecheckOK}}
	engine := &fakeEngine{result: &models.ScanResult{
		FinalURL:       "https://example.com/",
		RelatedDomains: []string{"example.com"},
	}}
	o := New(c, checker, engine, testConfig())

	resp, err := o.Resolve(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
	if engine.calls != 1 {
		t.Errorf("engine.calls = %d, want 1", engine.calls)
	}
	if c.upserts != 1 {
		t.Errorf("cache upserts = %d, want 1", c.upserts)
	}
}

func TestResolve_NonHTML_SkipsBrowser(t *testing.T) {
	checker := &fakeChecker{result: &models.PrecheckResult{
		Class:  models.PrecheckNonHTML,
		Reason: "non-HTML (application/pdf)",
	}}
	engine := &fakeEngine{}
	o := New(newFakeCache(), checker, engine, testConfig())

	resp, err := o.Resolve(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resp.Status != "skipped" {
		t.Errorf("Status = %q, want skipped", resp.Status)
	}
	if engine.calls != 0 {
		t.Errorf("engine.calls = %d, want 0 (browser should not run)", engine.calls)
	}
	if len(resp.RelatedDomains) != 1 || resp.RelatedDomains[0] != "example.com" {
		t.Errorf("RelatedDomains = %v, want [example.com]", resp.RelatedDomains)
	}
}

func TestResolve_Forbidden_FallsBackToBlockedOnScanFailure(t *testing.T) {
	checker := &fakeChecker{result: &models.PrecheckResult{
		Class:      models.PrecheckForbidden,
		Reason:     "forbidden",
		TryBrowser: true,
	}}
	engine := &fakeEngine{err: models.NewReconError(models.ErrCodeNavigation, "navigation failed", nil)}
	o := New(newFakeCache(), checker, engine, testConfig())

	resp, err := o.Resolve(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resp.Status != "blocked" {
		t.Errorf("Status = %q, want blocked", resp.Status)
	}
	if resp.Reason != "forbidden" {
		t.Errorf("Reason = %q, want forbidden", resp.Reason)
	}
}

func TestResolve_RedirectLoop_NoHTMLSeen_Skips(t *testing.T) {
	checker := &fakeChecker{result: &models.PrecheckResult{
		Class:      models.PrecheckRedirectLoop,
		Reason:     "redirect-loop",
		TryBrowser: false,
	}}
	engine := &fakeEngine{}
	o := New(newFakeCache(), checker, engine, testConfig())

	resp, err := o.Resolve(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resp.Status != "skipped" {
		t.Errorf("Status = %q, want skipped", resp.Status)
	}
	if engine.calls != 0 {
		t.Error("engine should not be invoked when no HTML was seen")
	}
}

func TestResolve_MarketingRedirect_ScansTarget(t *testing.T) {
	checker := &fakeChecker{result: &models.PrecheckResult{
		Class:     models.PrecheckMarketingRedirect,
		Reason:    "marketing-redirect(https://example.com/landing)",
		TargetURL: "https://example.com/landing",
	}}
	engine := &fakeEngine{result: &models.ScanResult{FinalURL: "https://example.com/landing"}}
	o := New(newFakeCache(), checker, engine, testConfig())

	resp, err := o.Resolve(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
	if resp.Note == "" {
		t.Error("expected Note to carry the marketing-redirect reason")
	}
}
