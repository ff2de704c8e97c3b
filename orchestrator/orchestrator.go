// Package orchestrator implements the scan orchestrator (C7): the state
// machine gluing hostname normalisation, the result cache, the HTTP
// pre-checker, and the browser scan engine into one request/response cycle.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/use-agent/domainrecon/config"
	"github.com/use-agent/domainrecon/hostname"
	"github.com/use-agent/domainrecon/models"
)

// DomainCache is the subset of *cache.Cache the orchestrator depends on.
type DomainCache interface {
	Lookup(domain string) (*models.CacheEntry, bool)
	Upsert(domain string, result *models.ScanResult) error
}

// PreChecker is the subset of *precheck.Checker the orchestrator depends on.
type PreChecker interface {
	Run(ctx context.Context, startURL string) *models.PrecheckResult
}

// ScanEngine is the subset of *scan.Engine the orchestrator depends on.
type ScanEngine interface {
	Scan(ctx context.Context, startURL, originHost string) (*models.ScanResult, error)
}

// Orchestrator runs the C7 state machine for one domain lookup at a time,
// bounding the number of concurrent browser scans.
type Orchestrator struct {
	cache    DomainCache
	checker  PreChecker
	engine   ScanEngine
	cfg      config.Config
	scanSema *semaphore
}

// New assembles an Orchestrator from its components.
func New(c DomainCache, checker PreChecker, engine ScanEngine, cfg config.Config) *Orchestrator {
	return &Orchestrator{
		cache:    c,
		checker:  checker,
		engine:   engine,
		cfg:      cfg,
		scanSema: newSemaphore(cfg.Server.Concurrency),
	}
}

// Resolve runs the full state machine for a raw domain string and returns
// the API-facing response. It never returns an error for domain-level
// failures (those are encoded into the response's Status/Reason); it only
// returns an error for BAD_DOMAIN (normalisation failure) or context
// expiry, both of which the caller maps to an HTTP status directly.
func (o *Orchestrator) Resolve(ctx context.Context, raw string) (resp *models.DomainResponse, err error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Server.HardTimeout)
	defer cancel()
	defer func() {
		if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			resp, err = nil, models.NewReconError(models.ErrCodeTimeout, "hard deadline exceeded", ctx.Err())
		}
	}()

	domain, err := hostname.Normalize(raw)
	if err != nil {
		return nil, err
	}

	if entry, ok := o.cache.Lookup(domain); ok {
		return &models.DomainResponse{
			Domain:         domain,
			FinalURL:       entry.FinalURL,
			RelatedDomains: entry.RelatedDomains,
			RedirectChain:  entry.RedirectChain,
			Cached:         true,
			CachedAt:       entry.UpdatedAt,
			TTLAt:          entry.TTLAt,
			Status:         "ok",
		}, nil
	}

	startURL := "https://" + domain
	pre := o.checker.Run(ctx, startURL)

	switch pre.Class {
	case models.PrecheckOK:
		resp, err := o.scanAndRespond(ctx, domain, startURL, "")
		if err != nil {
			return originOnly(domain, "blocked", "blocked", ""), nil
		}
		return resp, nil

	case models.PrecheckAttachment, models.PrecheckNonHTML:
		return originOnly(domain, "skipped", pre.Reason, ""), nil

	case models.PrecheckRedirectToFile:
		return originOnly(domain, "skipped", pre.Reason, pre.TargetURL), nil

	case models.PrecheckMarketingRedirect:
		resp, err := o.scanAndRespond(ctx, domain, pre.TargetURL, pre.Reason)
		if err != nil {
			return originOnly(domain, "blocked", pre.Reason, ""), nil
		}
		return resp, nil

	case models.PrecheckForbidden:
		resp, err := o.scanAndRespond(ctx, domain, startURL, "")
		if err != nil {
			return originOnly(domain, "blocked", "forbidden", ""), nil
		}
		return resp, nil

	case models.PrecheckRedirectLoop:
		if pre.TryBrowser {
			resp, err := o.scanAndRespond(ctx, domain, startURL, "")
			if err != nil {
				return originOnly(domain, "blocked", pre.Reason, ""), nil
			}
			return resp, nil
		}
		return originOnly(domain, "skipped", pre.Reason, ""), nil

	case models.PrecheckTransportError:
		resp, err := o.scanAndRespond(ctx, domain, startURL, "")
		if err != nil {
			return originOnly(domain, "blocked", "transport-error", ""), nil
		}
		return resp, nil

	default:
		return originOnly(domain, "blocked", string(pre.Class), ""), nil
	}
}

// scanAndRespond bounds concurrency, runs the browser scan, persists a
// success, and builds the final response.
func (o *Orchestrator) scanAndRespond(ctx context.Context, domain, startURL, note string) (*models.DomainResponse, error) {
	if err := o.scanSema.acquire(ctx); err != nil {
		return nil, err
	}
	defer o.scanSema.release()

	result, err := o.engine.Scan(ctx, startURL, domain)
	if err != nil {
		slog.Warn("scan failed", "domain", domain, "error", err)
		return nil, err
	}

	if err := o.cache.Upsert(domain, result); err != nil {
		slog.Error("cache upsert failed", "domain", domain, "error", err)
	}

	return &models.DomainResponse{
		Domain:         domain,
		FinalURL:       result.FinalURL,
		RelatedDomains: result.RelatedDomains,
		RedirectChain:  result.RedirectChain,
		Cached:         false,
		Status:         "ok",
		Note:           note,
	}, nil
}

func originOnly(domain, status, reason, finalURL string) *models.DomainResponse {
	return &models.DomainResponse{
		Domain:         domain,
		FinalURL:       finalURL,
		RelatedDomains: []string{domain},
		RedirectChain:  []models.RedirectStep{},
		Cached:         false,
		Status:         status,
		Reason:         reason,
	}
}

// IsHardTimeout reports whether err represents the orchestrator's overall
// deadline having expired, for mapping to HTTP 504 at the API layer.
func IsHardTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
