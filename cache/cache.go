// Package cache is the persistent domain-result store (C2). It is backed by
// a local SQLite file opened in WAL mode so lookups and upserts from
// concurrent scans do not block each other.
package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/use-agent/domainrecon/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS domain_cache (
	domain          TEXT PRIMARY KEY,
	final_url       TEXT NOT NULL,
	related_domains TEXT NOT NULL,
	redirect_chain  TEXT NOT NULL,
	updated_at      INTEGER NOT NULL,
	ttl_at          INTEGER NOT NULL
);
`

// Cache is the sqlite-backed domain result store. It is safe for concurrent
// use; the underlying *sql.DB pools its own connections.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
}

// Open opens (creating if necessary) the sqlite file at path, enables WAL
// mode, and runs the idempotent schema migration.
func Open(path string, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Cache{db: db, ttl: ttl}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Lookup returns the cached entry for domain if present and still live. A row
// whose JSON columns fail to parse is treated as a miss and logged rather
// than returned or surfaced as an error.
func (c *Cache) Lookup(domain string) (*models.CacheEntry, bool) {
	row := c.db.QueryRow(
		`SELECT final_url, related_domains, redirect_chain, updated_at, ttl_at
		 FROM domain_cache WHERE domain = ?`, domain,
	)

	var (
		finalURL, relatedJSON, chainJSON string
		updatedAt, ttlAt                 int64
	)
	if err := row.Scan(&finalURL, &relatedJSON, &chainJSON, &updatedAt, &ttlAt); err != nil {
		return nil, false
	}

	entry := &models.CacheEntry{
		Domain:    domain,
		FinalURL:  finalURL,
		UpdatedAt: updatedAt,
		TTLAt:     ttlAt,
	}

	if err := json.Unmarshal([]byte(relatedJSON), &entry.RelatedDomains); err != nil {
		slog.Warn("cache row has malformed related_domains", "domain", domain, "error", err)
		return nil, false
	}
	if err := json.Unmarshal([]byte(chainJSON), &entry.RedirectChain); err != nil {
		slog.Warn("cache row has malformed redirect_chain", "domain", domain, "error", err)
		return nil, false
	}

	if !entry.Live(time.Now().Unix()) {
		return nil, false
	}
	return entry, true
}

// Upsert replaces any prior row for domain, stamping updated_at with now and
// ttl_at with now + TTL.
func (c *Cache) Upsert(domain string, result *models.ScanResult) error {
	relatedJSON, err := json.Marshal(result.RelatedDomains)
	if err != nil {
		return fmt.Errorf("marshal related domains: %w", err)
	}
	chainJSON, err := json.Marshal(result.RedirectChain)
	if err != nil {
		return fmt.Errorf("marshal redirect chain: %w", err)
	}

	now := time.Now().Unix()
	ttlAt := now + int64(c.ttl.Seconds())

	_, err = c.db.Exec(
		`INSERT INTO domain_cache (domain, final_url, related_domains, redirect_chain, updated_at, ttl_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(domain) DO UPDATE SET
			final_url = excluded.final_url,
			related_domains = excluded.related_domains,
			redirect_chain = excluded.redirect_chain,
			updated_at = excluded.updated_at,
			ttl_at = excluded.ttl_at`,
		domain, result.FinalURL, string(relatedJSON), string(chainJSON), now, ttlAt,
	)
	if err != nil {
		return fmt.Errorf("upsert domain %s: %w", domain, err)
	}
	return nil
}
