// Package browser manages the single shared headless browser process (C4)
// and the per-navigation redirect limiter installed on every fresh browsing
// context (C5).
package browser

import (
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	"github.com/use-agent/domainrecon/config"
	"github.com/use-agent/domainrecon/models"
)

// Pool holds the single shared browser handle. acquire() launches it lazily
// on first use and relaunches it if the stored handle reports disconnection.
// The pool does not manage browsing contexts; each scan creates and closes
// its own.
//
// healthy caches the outcome of the last connectivity probe so that a run of
// successful Acquire calls doesn't each pay for a fresh Version() round trip
// to the browser process. It is cleared as soon as a scan reports a
// disconnection, which forces the next Acquire to re-probe rather than trust
// the cached state.
type Pool struct {
	mu      sync.Mutex
	browser *rod.Browser
	healthy bool
	cfg     config.BrowserConfig
}

// New creates an unstarted pool. The browser process is launched lazily on
// the first call to Acquire.
func New(cfg config.BrowserConfig) *Pool {
	return &Pool{cfg: cfg}
}

// Acquire returns the shared browser handle, launching or relaunching it as
// needed.
func (p *Pool) Acquire() (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browser != nil && p.healthy {
		return p.browser, nil
	}

	if p.browser != nil {
		if _, err := p.browser.Version(); err != nil {
			slog.Warn("browser pool: handle disconnected, tearing down", "error", err)
			_ = p.browser.Close()
			p.browser = nil
		} else {
			p.healthy = true
			return p.browser, nil
		}
	}

	l := launcher.New().
		Headless(p.cfg.Headless).
		NoSandbox(p.cfg.NoSandbox)

	if p.cfg.BrowserBin != "" {
		l = l.Bin(p.cfg.BrowserBin)
	}

	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewReconError(models.ErrCodeInternal, "failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewReconError(models.ErrCodeInternal, "failed to connect to browser", err)
	}

	p.browser = browser
	p.healthy = true
	return p.browser, nil
}

// ReportDisconnected clears the cached health flag after a scan observes the
// browser handle behaving as if the connection were lost (e.g. a page failing
// to close cleanly). It does not tear anything down itself — the next
// Acquire call re-probes the handle and relaunches only if the probe fails.
func (p *Pool) ReportDisconnected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = false
}

// Shutdown closes the browser. The next Acquire call relaunches it.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.healthy = false
	if p.browser == nil {
		return
	}
	slog.Info("browser pool: shutting down")
	if err := p.browser.Close(); err != nil {
		slog.Warn("browser pool: close failed", "error", err)
	}
	p.browser = nil
}
