// Package reconcile owns every write to the registration record set. It
// decides when cached data is fresh enough to reuse, merges conflicting
// provider answers under a fixed trust ordering, and moves records between
// the active and historical states.
package reconcile

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"icpquery/internal/icp/models"
	"icpquery/internal/icp/store"
	"icpquery/internal/platform/metrics"
	dErrors "icpquery/pkg/domain-errors"
	"icpquery/pkg/requestcontext"
)

// DefaultMaxAgeDays bounds cache freshness when the caller configures nothing.
const DefaultMaxAgeDays = 30

// Engine is the sole writer of registration records.
type Engine struct {
	store   store.RecordStore
	maxAge  time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	keys    keyedMutex
}

// New constructs the engine. maxAgeDays <= 0 falls back to the default.
func New(recordStore store.RecordStore, maxAgeDays int, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if maxAgeDays <= 0 {
		maxAgeDays = DefaultMaxAgeDays
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		store:   recordStore,
		maxAge:  time.Duration(maxAgeDays) * 24 * time.Hour,
		logger:  logger,
		metrics: m,
	}
}

// IsStale reports whether a record last confirmed at updatedAt has outlived
// the cache window as of now.
func (e *Engine) IsStale(updatedAt, now time.Time) bool {
	return now.Sub(updatedAt) > e.maxAge
}

// FreshOnly filters records down to the ones still inside the cache window.
func (e *Engine) FreshOnly(records []*models.Record, now time.Time) []*models.Record {
	fresh := make([]*models.Record, 0, len(records))
	for _, r := range records {
		if !e.IsStale(r.UpdatedAt, now) {
			fresh = append(fresh, r)
		}
	}
	return fresh
}

// MergeAndPersist reconciles candidate records with the cached set and
// commits the outcome atomically. When companyScope is non-empty, the call
// additionally means "this is the company's complete current portfolio":
// active records of that company whose domain the candidates no longer report
// flip to historical.
//
// Per-candidate rules, keyed on (company, domain, licence):
//   - no existing record: insert, forced active
//   - candidate source strictly outranks the existing source: overwrite
//     descriptive fields and provenance, refresh updated_at, force active
//   - otherwise: leave fields untouched, but a historical record reactivates;
//     a lower-trust re-confirmation cancels "withdrawn" without being allowed
//     to overwrite higher-trust data
//
// Re-applying the same candidate set is a no-op beyond the first call.
func (e *Engine) MergeAndPersist(ctx context.Context, candidates []models.Candidate, companyScope string) ([]*models.Record, error) {
	unlock := e.keys.lockAll(mergeLockKeys(candidates, companyScope))
	defer unlock()

	now := requestcontext.Now(ctx)
	var touched []*models.Record

	err := e.store.Apply(ctx, func(tx store.RecordTx) error {
		touched = touched[:0]

		if companyScope != "" {
			marked, err := e.markWithdrawn(tx, candidates, companyScope, now)
			if err != nil {
				return err
			}
			touched = append(touched, marked...)
		}

		for _, candidate := range candidates {
			record, err := e.mergeOne(tx, candidate, now)
			if err != nil {
				return err
			}
			touched = append(touched, record)
		}
		return nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist records")
	}
	return touched, nil
}

// markWithdrawn flips active records of the scoped company to historical when
// their domain is absent from the candidate set.
func (e *Engine) markWithdrawn(tx store.RecordTx, candidates []models.Candidate, company string, now time.Time) ([]*models.Record, error) {
	current := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		current[c.Domain] = struct{}{}
	}

	active, err := tx.ActiveByCompany(company)
	if err != nil {
		return nil, err
	}

	var marked []*models.Record
	for _, record := range active {
		if _, stillReported := current[record.Domain]; stillReported {
			continue
		}
		record.IsHistorical = true
		record.UpdatedAt = now
		if err := tx.Update(record); err != nil {
			return nil, err
		}
		e.metrics.IncHistorical()
		e.logger.Info("marked record historical",
			"company", company, "domain", record.Domain)
		marked = append(marked, record)
	}
	return marked, nil
}

func (e *Engine) mergeOne(tx store.RecordTx, candidate models.Candidate, now time.Time) (*models.Record, error) {
	existing, err := tx.FindByKey(candidate.Key())
	if err != nil {
		if !store.IsNotFound(err) {
			return nil, err
		}
		record := newRecord(candidate, now)
		if err := tx.Insert(record); err != nil {
			return nil, err
		}
		e.logger.Info("created record",
			"company", record.CompanyName, "domain", record.Domain, "source", record.Source)
		return record, nil
	}

	if candidate.Source.Outranks(existing.Source) {
		e.logger.Info("record source upgraded",
			"domain", existing.Domain, "from", existing.Source, "to", candidate.Source)
		applyCandidate(existing, candidate)
		existing.IsHistorical = false
		existing.UpdatedAt = now
		if err := tx.Update(existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	// Existing data wins on trust, but the re-confirmation alone is enough to
	// cancel withdrawn status.
	if existing.IsHistorical {
		existing.IsHistorical = false
		existing.UpdatedAt = now
		if err := tx.Update(existing); err != nil {
			return nil, err
		}
		e.metrics.IncReactivated()
		e.logger.Info("record reactivated", "domain", existing.Domain)
	}
	return existing, nil
}

func newRecord(c models.Candidate, now time.Time) *models.Record {
	return &models.Record{
		ID:             uuid.NewString(),
		CompanyName:    c.CompanyName,
		Domain:         c.Domain,
		ServiceLicence: c.ServiceLicence,
		SiteName:       c.SiteName,
		SiteLicense:    c.SiteLicense,
		CompanyType:    c.CompanyType,
		Owner:          c.Owner,
		LimitAccess:    c.LimitAccess,
		VerifyTime:     c.VerifyTime,
		Source:         c.Source,
		RawData:        c.RawData,
		IsHistorical:   false,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func applyCandidate(r *models.Record, c models.Candidate) {
	r.SiteName = c.SiteName
	r.SiteLicense = c.SiteLicense
	r.CompanyType = c.CompanyType
	r.Owner = c.Owner
	r.LimitAccess = c.LimitAccess
	r.VerifyTime = c.VerifyTime
	r.Source = c.Source
	r.RawData = c.RawData
}

// mergeLockKeys collects every company name a merge can touch. Keys are
// sorted so concurrent merges always acquire locks in the same order.
func mergeLockKeys(candidates []models.Candidate, companyScope string) []string {
	set := make(map[string]struct{})
	if companyScope != "" {
		set[companyScope] = struct{}{}
	}
	for _, c := range candidates {
		if c.CompanyName != "" {
			set[c.CompanyName] = struct{}{}
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// keyedMutex serializes merges per company. The memory store has no row
// transactions, so without this two concurrent merges of the same company
// could interleave their read-then-write cycles.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lockAll(keys []string) func() {
	locked := make([]*sync.Mutex, 0, len(keys))
	for _, key := range keys {
		locked = append(locked, k.get(key))
	}
	for _, m := range locked {
		m.Lock()
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].Unlock()
		}
	}
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	if m, ok := k.locks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	k.locks[key] = m
	return m
}
