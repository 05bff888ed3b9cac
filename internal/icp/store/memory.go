package store

import (
	"context"
	"sync"

	"icpquery/internal/icp/models"
	"icpquery/pkg/platform/sentinel"
)

// Memory is the in-memory RecordStore. One mutex spans each Apply call, which
// stands in for the row-level transactional guarantees postgres provides.
type Memory struct {
	mu      sync.Mutex
	records map[string]*models.Record // keyed by record ID
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*models.Record)}
}

func (m *Memory) FindByKey(ctx context.Context, key models.RecordKey) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findByKeyLocked(key)
}

func (m *Memory) findByKeyLocked(key models.RecordKey) (*models.Record, error) {
	for _, r := range m.records {
		if r.Key() == key {
			return clone(r), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (m *Memory) FindByCompany(ctx context.Context, company string, includeHistorical bool) ([]*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Record
	for _, r := range m.records {
		if r.CompanyName != company {
			continue
		}
		if r.IsHistorical && !includeHistorical {
			continue
		}
		out = append(out, clone(r))
	}
	return out, nil
}

func (m *Memory) FindByDomain(ctx context.Context, domain string, historical *bool) ([]*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Record
	for _, r := range m.records {
		if r.Domain != domain {
			continue
		}
		if historical != nil && r.IsHistorical != *historical {
			continue
		}
		out = append(out, clone(r))
	}
	return out, nil
}

func (m *Memory) Apply(ctx context.Context, fn func(tx RecordTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{store: m, staged: make(map[string]*models.Record)}
	if err := fn(tx); err != nil {
		return err
	}
	// Commit: staged copies replace live records in one step under the lock.
	for id, r := range tx.staged {
		m.records[id] = clone(r)
	}
	return nil
}

func (m *Memory) Stats(ctx context.Context) (*models.StoreStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	companies := make(map[string]struct{})
	domains := make(map[string]struct{})
	bySource := make(map[models.Source]int)
	for _, r := range m.records {
		companies[r.CompanyName] = struct{}{}
		domains[r.Domain] = struct{}{}
		bySource[r.Source]++
	}
	return &models.StoreStats{
		TotalRecords:    len(m.records),
		UniqueCompanies: len(companies),
		UniqueDomains:   len(domains),
		BySource:        bySource,
	}, nil
}

// memoryTx buffers writes until Apply commits. Reads consult the staged set
// first so the transaction observes its own writes.
type memoryTx struct {
	store  *Memory
	staged map[string]*models.Record
}

func (t *memoryTx) FindByKey(key models.RecordKey) (*models.Record, error) {
	for _, r := range t.staged {
		if r.Key() == key {
			return clone(r), nil
		}
	}
	return t.store.findByKeyLocked(key)
}

func (t *memoryTx) ActiveByCompany(company string) ([]*models.Record, error) {
	var out []*models.Record
	seen := make(map[string]struct{})
	for id, r := range t.staged {
		seen[id] = struct{}{}
		if r.CompanyName == company && !r.IsHistorical {
			out = append(out, clone(r))
		}
	}
	for id, r := range t.store.records {
		if _, ok := seen[id]; ok {
			continue
		}
		if r.CompanyName == company && !r.IsHistorical {
			out = append(out, clone(r))
		}
	}
	return out, nil
}

func (t *memoryTx) Insert(record *models.Record) error {
	if record.ID == "" {
		return sentinel.ErrConflict
	}
	if _, ok := t.staged[record.ID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := t.store.records[record.ID]; ok {
		return sentinel.ErrConflict
	}
	t.staged[record.ID] = clone(record)
	return nil
}

func (t *memoryTx) Update(record *models.Record) error {
	_, staged := t.staged[record.ID]
	_, live := t.store.records[record.ID]
	if !staged && !live {
		return sentinel.ErrNotFound
	}
	t.staged[record.ID] = clone(record)
	return nil
}

func clone(r *models.Record) *models.Record {
	cp := *r
	return &cp
}
