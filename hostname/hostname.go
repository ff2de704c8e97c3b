// Package hostname canonicalises arbitrary user-supplied domain strings into
// ASCII hostnames suitable for use as cache keys and scan targets.
package hostname

import (
	"net/url"
	"strings"

	"golang.org/x/net/idna"

	"github.com/use-agent/domainrecon/models"
)

const maxHostnameLength = 253

var profile = idna.New(
	idna.MapForLookup(),
	idna.BidiRule(),
	idna.Transitional(false),
)

// Normalize trims, lowercases, and IDNA-encodes raw input into a canonical
// ASCII hostname. It accepts a bare host ("Example.COM"), a host with a
// scheme ("https://example.com/path"), or anything in between.
//
// It fails with models.ErrCodeBadDomain when the result is empty, exceeds
// 253 octets, or cannot be IDNA-encoded.
func Normalize(raw string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return "", models.NewReconError(models.ErrCodeBadDomain, "empty domain", nil)
	}

	host := extractHost(trimmed)
	if host == "" {
		return "", models.NewReconError(models.ErrCodeBadDomain, "could not determine host", nil)
	}

	ascii, err := profile.ToASCII(host)
	if err != nil {
		return "", models.NewReconError(models.ErrCodeBadDomain, "invalid IDNA hostname", err)
	}

	if ascii == "" || len(ascii) > maxHostnameLength {
		return "", models.NewReconError(models.ErrCodeBadDomain, "hostname out of bounds", nil)
	}

	return ascii, nil
}

// extractHost pulls a bare host out of raw input, whether or not it carries
// a scheme. Unparsable input falls back to being treated as a raw host.
func extractHost(s string) string {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		u, err := url.Parse(s)
		if err != nil || u.Hostname() == "" {
			return ""
		}
		return u.Hostname()
	}

	u, err := url.Parse("https://" + s)
	if err == nil && u.Hostname() != "" {
		return u.Hostname()
	}

	// Fall back to treating the whole string as a raw host, stripping any
	// path or query that slipped through unparsed.
	host := s
	if i := strings.IndexAny(host, "/?#"); i != -1 {
		host = host[:i]
	}
	if i := strings.LastIndex(host, "@"); i != -1 {
		host = host[i+1:]
	}
	return host
}
