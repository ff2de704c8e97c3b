// Package precheck implements the HTTP pre-checker (C3): a bounded
// manual-redirect walk that classifies a target before a browser is ever
// spawned for it, grounded on a Chrome-like TLS fingerprint so the walk is
// not trivially distinguished from a real browser's first request.
package precheck

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	tls "github.com/refraction-networking/utls"

	"github.com/use-agent/domainrecon/config"
	"github.com/use-agent/domainrecon/models"
)

// downloadableSuffixes is the closed set of path suffixes that mark a
// Location target as a downloadable asset rather than a page.
var downloadableSuffixes = map[string]bool{
	"zip": true, "pdf": true, "png": true, "jpg": true, "jpeg": true,
	"gif": true, "webp": true, "svg": true, "mp4": true, "mp3": true,
	"wav": true, "csv": true, "xls": true, "xlsx": true, "doc": true,
	"docx": true, "ppt": true, "pptx": true, "exe": true, "deb": true,
	"rpm": true, "apk": true, "tar": true, "gz": true, "bz2": true,
	"7z": true,
}

var fileKeywordSubstrings = []string{"download", "file", "export"}

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to
// http/1.1 so Go's http.Transport never has to speak HTTP/2 over it.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// Checker runs the bounded manual-redirect walk described in C3.
type Checker struct {
	client       *http.Client
	maxRedirects int
}

// New builds a Checker from precheck configuration. It never follows
// redirects automatically; the walk loop in Run drives every hop by hand so
// each one can be inspected before proceeding.
func New(cfg config.PrecheckConfig) *Checker {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: cfg.Timeout}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("precheck: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2: false,
	}

	return &Checker{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse // redirect=manual
			},
		},
		maxRedirects: cfg.MaxRedirects,
	}
}

// Run walks startURL (normally "https://<domain>") hop by hop, classifying
// the target per the termination table in C3.
func (c *Checker) Run(ctx context.Context, startURL string) *models.PrecheckResult {
	seen := map[string]bool{}
	sawHTML := false
	current := startURL

	for hop := 0; ; hop++ {
		if hop > c.maxRedirects {
			return c.loopResult(startURL, sawHTML, fmt.Sprintf("redirect-loop(%d)", c.maxRedirects))
		}

		stripped := stripFragment(current)
		if seen[stripped] {
			return c.loopResult(startURL, sawHTML, "redirect-loop")
		}
		seen[stripped] = true

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return &models.PrecheckResult{
				Class:    models.PrecheckTransportError,
				Reason:   "transport error",
				StartURL: startURL,
				Skip:     false,
			}
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return &models.PrecheckResult{
				Class:    models.PrecheckTransportError,
				Reason:   "transport error",
				StartURL: startURL,
				Skip:     false,
			}
		}
		resp.Body.Close()

		ct := resp.Header.Get("Content-Type")
		isHTML := strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), "text/html")
		if isHTML {
			sawHTML = true
		}

		if strings.Contains(strings.ToLower(resp.Header.Get("Content-Disposition")), "attachment") {
			return &models.PrecheckResult{
				Class:    models.PrecheckAttachment,
				Reason:   "attachment",
				StartURL: startURL,
				Skip:     true,
			}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if isHTML {
				return &models.PrecheckResult{
					Class:    models.PrecheckOK,
					Reason:   "ok",
					StartURL: current,
					Skip:     false,
				}
			}
			return &models.PrecheckResult{
				Class:    models.PrecheckNonHTML,
				Reason:   fmt.Sprintf("non-HTML (%s)", ct),
				StartURL: startURL,
				Skip:     true,
			}
		}

		if resp.StatusCode == http.StatusForbidden {
			return &models.PrecheckResult{
				Class:      models.PrecheckForbidden,
				Reason:     "forbidden",
				StartURL:   startURL,
				TryBrowser: true,
				Skip:       true,
			}
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Header.Get("Location")
			if location == "" {
				return &models.PrecheckResult{
					Class:    models.PrecheckTransportError,
					Reason:   "transport error",
					StartURL: startURL,
					Skip:     false,
				}
			}

			next, err := req.URL.Parse(location)
			if err != nil {
				return &models.PrecheckResult{
					Class:    models.PrecheckTransportError,
					Reason:   "transport error",
					StartURL: startURL,
					Skip:     false,
				}
			}
			next = normalizeRedirectURL(req.URL, next)
			nextURL := next.String()

			if looksDownloadable(next) {
				return &models.PrecheckResult{
					Class:     models.PrecheckRedirectToFile,
					Reason:    fmt.Sprintf("redirect-to-file(%s)", nextURL),
					StartURL:  startURL,
					TargetURL: nextURL,
					Skip:      true,
				}
			}

			if result := c.probeMarketing(ctx, nextURL, startURL); result != nil {
				return result
			}

			current = nextURL
			continue
		}

		return &models.PrecheckResult{
			Class:    models.PrecheckTransportError,
			Reason:   "transport error",
			StartURL: startURL,
			Skip:     false,
		}
	}
}

// probeMarketing issues one additional manual GET against a freshly resolved
// redirect target. If that target itself returns HTML, the intermediate hop
// is skipped entirely and the browser flow re-enters at the resolved URL.
func (c *Checker) probeMarketing(ctx context.Context, target, startURL string) *models.PrecheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil
	}
	resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	if resp.StatusCode >= 200 && resp.StatusCode < 300 &&
		strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), "text/html") {
		return &models.PrecheckResult{
			Class:     models.PrecheckMarketingRedirect,
			Reason:    fmt.Sprintf("marketing-redirect(%s)", target),
			StartURL:  target,
			TargetURL: target,
			Skip:      false,
		}
	}
	return nil
}

func (c *Checker) loopResult(startURL string, sawHTML bool, reason string) *models.PrecheckResult {
	return &models.PrecheckResult{
		Class:      models.PrecheckRedirectLoop,
		Reason:     reason,
		StartURL:   startURL,
		TryBrowser: sawHTML,
		Skip:       !sawHTML,
	}
}

func stripFragment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	return u.String()
}

func looksDownloadable(u *url.URL) bool {
	path := strings.ToLower(u.Path)
	if i := strings.LastIndex(path, "."); i != -1 {
		if downloadableSuffixes[strings.TrimPrefix(path[i:], ".")] {
			return true
		}
		// handle .tar.gz as a compound suffix
		if strings.HasSuffix(path, ".tar.gz") {
			return true
		}
	}
	for _, kw := range fileKeywordSubstrings {
		if strings.Contains(path, kw) {
			return true
		}
	}
	return false
}

// normalizeRedirectURL fixes port mismatches when a redirect changes scheme,
// e.g. http://host:80 -> https should become https://host (port 443)
// rather than https://host:80.
func normalizeRedirectURL(currentURL, nextURL *url.URL) *url.URL {
	if currentURL.Scheme == nextURL.Scheme {
		return nextURL
	}

	currentPort := currentURL.Port()
	nextPort := nextURL.Port()
	if nextPort == "" {
		return nextURL
	}

	currentDefaultPort := "80"
	if currentURL.Scheme == "https" {
		currentDefaultPort = "443"
	}

	if (currentPort == "" || currentPort == currentDefaultPort) && nextPort == currentDefaultPort {
		normalized := *nextURL
		normalized.Host = nextURL.Hostname()
		return &normalized
	}
	return nextURL
}
