package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/use-agent/domainrecon/models"
)

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(path, ttl)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLookup_Miss(t *testing.T) {
	c := newTestCache(t, time.Hour)

	if _, ok := c.Lookup("example.com"); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestUpsertThenLookup_Hit(t *testing.T) {
	c := newTestCache(t, time.Hour)

	result := &models.ScanResult{
		FinalURL:       "https://example.com/",
		RelatedDomains: []string{"example.com", "cdn.example.com"},
		RedirectChain: []models.RedirectStep{
			{From: "https://example.com", To: "https://example.com/", Status: 301},
		},
	}
	if err := c.Upsert("example.com", result); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	entry, ok := c.Lookup("example.com")
	if !ok {
		t.Fatal("expected hit after upsert")
	}
	if entry.FinalURL != result.FinalURL {
		t.Errorf("FinalURL = %q, want %q", entry.FinalURL, result.FinalURL)
	}
	if len(entry.RelatedDomains) != 2 {
		t.Errorf("RelatedDomains = %v, want 2 entries", entry.RelatedDomains)
	}
	if len(entry.RedirectChain) != 1 {
		t.Errorf("RedirectChain = %v, want 1 entry", entry.RedirectChain)
	}
}

func TestUpsert_Overwrites(t *testing.T) {
	c := newTestCache(t, time.Hour)

	first := &models.ScanResult{FinalURL: "https://example.com/old", RelatedDomains: []string{"example.com"}}
	second := &models.ScanResult{FinalURL: "https://example.com/new", RelatedDomains: []string{"example.com"}}

	if err := c.Upsert("example.com", first); err != nil {
		t.Fatalf("first Upsert() error: %v", err)
	}
	if err := c.Upsert("example.com", second); err != nil {
		t.Fatalf("second Upsert() error: %v", err)
	}

	entry, ok := c.Lookup("example.com")
	if !ok {
		t.Fatal("expected hit")
	}
	if entry.FinalURL != second.FinalURL {
		t.Errorf("FinalURL = %q, want %q (overwrite expected)", entry.FinalURL, second.FinalURL)
	}
}

func TestLookup_ExpiredIsMiss(t *testing.T) {
	c := newTestCache(t, -time.Hour) // already-expired ttl

	result := &models.ScanResult{FinalURL: "https://example.com/", RelatedDomains: []string{"example.com"}}
	if err := c.Upsert("example.com", result); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	if _, ok := c.Lookup("example.com"); ok {
		t.Fatal("expected miss for expired entry")
	}
}
