// Package service orchestrates registration lookups: cache first, then the
// providers in trust order, with every write funneled through the
// reconciliation engine.
package service

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"icpquery/internal/icp/domainutil"
	"icpquery/internal/icp/models"
	"icpquery/internal/icp/provider"
	"icpquery/internal/icp/reconcile"
	"icpquery/internal/icp/store"
	"icpquery/internal/platform/metrics"
	dErrors "icpquery/pkg/domain-errors"
	"icpquery/pkg/requestcontext"
)

// Service answers the lookup operations exposed over HTTP.
type Service struct {
	store     store.RecordStore
	engine    *reconcile.Engine
	providers []provider.Client
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New wires the orchestrator. Providers must be passed in trust order, most
// trusted first; that order decides both query sequence and merge priority.
func New(recordStore store.RecordStore, engine *reconcile.Engine, providers []provider.Client, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		store:     recordStore,
		engine:    engine,
		providers: providers,
		logger:    logger,
		metrics:   m,
	}
}

// SearchByCompany returns a company's registration records, serving fresh
// cached data unless force is set and refreshing from the providers otherwise.
func (s *Service) SearchByCompany(ctx context.Context, name string, force, includeHistory bool) ([]models.FormattedRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "company name is required")
	}
	now := requestcontext.Now(ctx)

	cached, err := s.store.FindByCompany(ctx, name, includeHistory)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read cached records")
	}
	if fresh := s.engine.FreshOnly(cached, now); !force && len(fresh) > 0 {
		// Any fresh record answers the query; stale siblings are dropped from
		// the response rather than spent provider quota on.
		s.metrics.ObserveCache("hit")
		return models.FormatAll(fresh), nil
	}
	s.metrics.ObserveCache("miss")

	candidates, definitive, err := s.collectCompany(ctx, name)
	if err != nil {
		// Deadline hit while waiting on a provider: degrade to whatever is
		// cached rather than failing the request.
		s.logger.WarnContext(ctx, "provider lookup interrupted, serving cached records",
			"company", name, "error", err)
		return models.FormatAll(cached), nil
	}
	if !definitive {
		// Every provider exhausted its retries without an answer. The cache,
		// stale or not, is still the best information available.
		s.logger.WarnContext(ctx, "no provider answered, serving cached records", "company", name)
		return models.FormatAll(cached), nil
	}
	if len(candidates) == 0 {
		// Definitive empty: nothing registered right now. The cached rows are
		// left untouched; only an answer that carries records may rewrite a
		// portfolio's active set.
		return []models.FormattedRecord{}, nil
	}

	if _, err := s.engine.MergeAndPersist(ctx, candidates, name); err != nil {
		return nil, err
	}

	records, err := s.store.FindByCompany(ctx, name, includeHistory)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read merged records")
	}
	return models.FormatAll(records), nil
}

// SearchByDomain resolves a domain to its registration record(s). Government
// domains are cached under the full domain and refreshed through a hierarchy
// walk; everything else collapses to the registrable root.
func (s *Service) SearchByDomain(ctx context.Context, word string, force, includeHistory bool) ([]models.FormattedRecord, error) {
	domain := domainutil.Normalize(word)
	if domain == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "domain is required")
	}
	root := cacheRoot(domain)
	now := requestcontext.Now(ctx)

	cached, err := s.store.FindByDomain(ctx, root, &includeHistory)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read cached records")
	}
	if fresh := s.engine.FreshOnly(cached, now); !force && len(fresh) > 0 {
		s.metrics.ObserveCache("hit")
		// The hit is served from the owning company's refreshed portfolio so a
		// domain withdrawn since the last lookup does not linger as active.
		// When two companies' records share the root, the most recently
		// confirmed one names the owner.
		if company := mostRecent(fresh).CompanyName; company != "" {
			if _, err := s.SearchByCompany(ctx, company, true, includeHistory); err != nil {
				return nil, err
			}
			refreshed, err := s.store.FindByDomain(ctx, root, &includeHistory)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read refreshed records")
			}
			return models.FormatAll(refreshed), nil
		}
		return models.FormatAll(fresh), nil
	}
	s.metrics.ObserveCache("miss")

	matched, err := s.lookupDomain(ctx, domain, root)
	if err != nil {
		s.logger.WarnContext(ctx, "provider lookup interrupted, serving cached records",
			"domain", domain, "error", err)
		return models.FormatAll(cached), nil
	}
	if len(matched) == 0 {
		return []models.FormattedRecord{}, nil
	}

	touched, err := s.engine.MergeAndPersist(ctx, matched, "")
	if err != nil {
		return nil, err
	}

	// A resolvable owner means the whole portfolio can be pulled at company
	// trust, which also settles which of its domains are still active.
	pool := touched
	if company := firstCompany(matched); company != "" {
		if _, err := s.SearchByCompany(ctx, company, true, includeHistory); err != nil {
			return nil, err
		}
		pool, err = s.store.FindByCompany(ctx, company, includeHistory)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read merged records")
		}
	}

	// Answer with the directly matched domains plus any portfolio record
	// sharing the query's cache root. A government walk matches at a shallower
	// level than the query, so root equality alone would drop the hit.
	matchedDomains := make(map[string]struct{}, len(matched))
	for _, c := range matched {
		matchedDomains[domainutil.Normalize(c.Domain)] = struct{}{}
	}
	out := make([]*models.Record, 0, len(pool))
	for _, r := range pool {
		if r.IsHistorical && !includeHistory {
			continue
		}
		d := domainutil.Normalize(r.Domain)
		if _, ok := matchedDomains[d]; ok || cacheRoot(d) == root {
			out = append(out, r)
		}
	}
	return models.FormatAll(out), nil
}

// SearchCompanyHistoryDomains lists a company's withdrawn registrations. Pure
// cache read, no provider traffic.
func (s *Service) SearchCompanyHistoryDomains(ctx context.Context, name string) ([]models.FormattedRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "company name is required")
	}
	records, err := s.store.FindByCompany(ctx, name, true)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read cached records")
	}
	historical := make([]*models.Record, 0, len(records))
	for _, r := range records {
		if r.IsHistorical {
			historical = append(historical, r)
		}
	}
	return models.FormatAll(historical), nil
}

// Stats summarizes the cached record set.
func (s *Service) Stats(ctx context.Context) (*models.StoreStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read store stats")
	}
	return stats, nil
}

// collectCompany queries every provider for a company, in trust order.
// definitive is false only when no provider produced an answer at all, in
// which case the cached state must not be disturbed.
func (s *Service) collectCompany(ctx context.Context, name string) (candidates []models.Candidate, definitive bool, err error) {
	for _, p := range s.providers {
		result, err := p.QueryByCompany(ctx, name)
		if err != nil {
			return nil, false, err
		}
		if result.Outcome != provider.OutcomeNoData {
			definitive = true
		}
		candidates = append(candidates, result.Records...)
	}
	return candidates, definitive, nil
}

// lookupDomain finds provider records matching a domain. Government domains
// walk their hierarchy from most to least specific and stop at the first level
// with a match; others issue a single query on the full normalized domain,
// validated against its registrable root.
func (s *Service) lookupDomain(ctx context.Context, domain, root string) ([]models.Candidate, error) {
	levels := []string{domain}
	if domainutil.IsGovDomain(domain) {
		levels = domainutil.Hierarchy(domain)
	}

	for _, level := range levels {
		var matched []models.Candidate
		for _, p := range s.providers {
			result, err := p.QueryByDomain(ctx, level)
			if err != nil {
				return nil, err
			}
			for _, c := range result.Records {
				if domainutil.IsDomainMatch(domainutil.Normalize(c.Domain), level) {
					matched = append(matched, c)
				}
			}
		}
		if len(matched) > 0 {
			return matched, nil
		}
	}
	return nil, nil
}

// cacheRoot picks the key a domain's records are cached under. Government
// domains keep their full name because siblings under one authority are
// distinct registrations; everything else shares the registrable root.
func cacheRoot(domain string) string {
	if domainutil.IsGovDomain(domain) {
		return domain
	}
	return domainutil.RootDomain(domain)
}

// mostRecent returns the record with the latest confirmation. Callers must
// pass a non-empty slice.
func mostRecent(records []*models.Record) *models.Record {
	best := records[0]
	for _, r := range records[1:] {
		if r.UpdatedAt.After(best.UpdatedAt) {
			best = r
		}
	}
	return best
}

func firstCompany(candidates []models.Candidate) string {
	for _, c := range candidates {
		if c.CompanyName != "" {
			return c.CompanyName
		}
	}
	return ""
}
