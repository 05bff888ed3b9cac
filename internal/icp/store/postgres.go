package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"icpquery/internal/icp/models"
	"icpquery/pkg/platform/sentinel"
)

// Postgres persists registration records in PostgreSQL. Apply maps onto a
// database transaction, making the row engine the serialization point the
// merge logic relies on.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed record store. The caller owns
// the *sql.DB lifecycle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const recordColumns = `id, company_name, domain, service_licence, site_name, site_license,
	company_type, owner, limit_access, verify_time, data_source, raw_data,
	is_historical, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var r models.Record
	var source string
	err := row.Scan(
		&r.ID, &r.CompanyName, &r.Domain, &r.ServiceLicence, &r.SiteName, &r.SiteLicense,
		&r.CompanyType, &r.Owner, &r.LimitAccess, &r.VerifyTime, &source, &r.RawData,
		&r.IsHistorical, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Source = models.Source(source)
	return &r, nil
}

func collectRecords(rows *sql.Rows) ([]*models.Record, error) {
	defer rows.Close()
	var out []*models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func findByKey(ctx context.Context, q querier, key models.RecordKey) (*models.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM icp_records
		WHERE company_name = $1 AND domain = $2 AND service_licence = $3
		LIMIT 1`
	record, err := scanRecord(q.QueryRowContext(ctx, query, key.Company, key.Domain, key.Licence))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find record by key: %w", err)
	}
	return record, nil
}

func (s *Postgres) FindByKey(ctx context.Context, key models.RecordKey) (*models.Record, error) {
	return findByKey(ctx, s.db, key)
}

func (s *Postgres) FindByCompany(ctx context.Context, company string, includeHistorical bool) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM icp_records WHERE company_name = $1`
	if !includeHistorical {
		query += ` AND is_historical = FALSE`
	}
	rows, err := s.db.QueryContext(ctx, query, company)
	if err != nil {
		return nil, fmt.Errorf("find records by company: %w", err)
	}
	return collectRecords(rows)
}

func (s *Postgres) FindByDomain(ctx context.Context, domain string, historical *bool) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM icp_records WHERE domain = $1`
	args := []any{domain}
	if historical != nil {
		query += ` AND is_historical = $2`
		args = append(args, *historical)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find records by domain: %w", err)
	}
	return collectRecords(rows)
}

func (s *Postgres) Apply(ctx context.Context, fn func(tx RecordTx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge transaction: %w", err)
	}
	if err := fn(&postgresTx{ctx: ctx, tx: dbTx}); err != nil {
		_ = dbTx.Rollback()
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit merge transaction: %w", err)
	}
	return nil
}

func (s *Postgres) Stats(ctx context.Context) (*models.StoreStats, error) {
	stats := &models.StoreStats{BySource: make(map[models.Source]int)}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT company_name), COUNT(DISTINCT domain)
		FROM icp_records`)
	if err := row.Scan(&stats.TotalRecords, &stats.UniqueCompanies, &stats.UniqueDomains); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT data_source, COUNT(*) FROM icp_records GROUP BY data_source`)
	if err != nil {
		return nil, fmt.Errorf("count records by source: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("scan source count: %w", err)
		}
		stats.BySource[models.Source(source)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source counts: %w", err)
	}
	return stats, nil
}

type postgresTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *postgresTx) FindByKey(key models.RecordKey) (*models.Record, error) {
	return findByKey(t.ctx, t.tx, key)
}

func (t *postgresTx) ActiveByCompany(company string) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM icp_records
		WHERE company_name = $1 AND is_historical = FALSE
		FOR UPDATE`
	rows, err := t.tx.QueryContext(t.ctx, query, company)
	if err != nil {
		return nil, fmt.Errorf("find active records: %w", err)
	}
	return collectRecords(rows)
}

func (t *postgresTx) Insert(record *models.Record) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO icp_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		record.ID, record.CompanyName, record.Domain, record.ServiceLicence,
		record.SiteName, record.SiteLicense, record.CompanyType, record.Owner,
		record.LimitAccess, record.VerifyTime, string(record.Source), record.RawData,
		record.IsHistorical, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505: unique_violation on the natural key index.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("insert record: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (t *postgresTx) Update(record *models.Record) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE icp_records
		SET company_name = $2, domain = $3, service_licence = $4, site_name = $5,
			site_license = $6, company_type = $7, owner = $8, limit_access = $9,
			verify_time = $10, data_source = $11, raw_data = $12,
			is_historical = $13, updated_at = $14
		WHERE id = $1`,
		record.ID, record.CompanyName, record.Domain, record.ServiceLicence,
		record.SiteName, record.SiteLicense, record.CompanyType, record.Owner,
		record.LimitAccess, record.VerifyTime, string(record.Source), record.RawData,
		record.IsHistorical, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
