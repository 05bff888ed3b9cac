// Package store persists registration records. Two implementations share one
// interface: a mutex-guarded in-memory store for development and unit tests,
// and a PostgreSQL store for real deployments.
package store

import (
	"context"
	"errors"

	"icpquery/internal/icp/models"
	"icpquery/pkg/platform/sentinel"
)

// IsNotFound reports whether err means "no such record", however wrapped.
func IsNotFound(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound)
}

// RecordStore is the persistence contract the reconciliation engine and the
// orchestrator depend on. Reads are plain lookups; every mutation goes
// through Apply so a merge commits as one atomic unit.
type RecordStore interface {
	// FindByKey looks up the record occupying an exact composite key.
	// Returns sentinel.ErrNotFound (possibly wrapped) when absent.
	FindByKey(ctx context.Context, key models.RecordKey) (*models.Record, error)

	// FindByCompany returns a company's records; historical ones only when
	// includeHistorical is set.
	FindByCompany(ctx context.Context, company string, includeHistorical bool) ([]*models.Record, error)

	// FindByDomain returns records for an exact domain. When historical is
	// non-nil only records with that exact is_historical value match.
	FindByDomain(ctx context.Context, domain string, historical *bool) ([]*models.Record, error)

	// Apply runs fn against a transaction. Every mutation inside commits
	// together or not at all; fn returning an error rolls everything back.
	Apply(ctx context.Context, fn func(tx RecordTx) error) error

	// Stats summarizes the cached record set.
	Stats(ctx context.Context) (*models.StoreStats, error)
}

// RecordTx is the mutation surface available inside Apply. Reads issued here
// observe the transaction's own writes.
type RecordTx interface {
	FindByKey(key models.RecordKey) (*models.Record, error)
	ActiveByCompany(company string) ([]*models.Record, error)
	Insert(record *models.Record) error
	Update(record *models.Record) error
}
