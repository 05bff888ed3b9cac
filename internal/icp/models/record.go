package models

import "time"

// Record is the unit of cached knowledge: an assertion that a company legally
// owns a domain under the ICP registration scheme, as reported by one provider
// at one point in time.
//
// Invariants:
//   - (CompanyName, Domain, ServiceLicence) is the natural composite key
//   - Records are never deleted, only flagged historical
//   - A record flips to historical when a full re-query of its company no
//     longer reports its domain, and reactivates when any provider reports it
//     again
type Record struct {
	ID string `json:"id"`

	CompanyName    string `json:"company_name"`
	Domain         string `json:"domain"`
	ServiceLicence string `json:"service_licence"`

	SiteName    string `json:"site_name"`
	SiteLicense string `json:"site_license"`
	CompanyType string `json:"company_type"`
	Owner       string `json:"owner"`
	LimitAccess string `json:"limit_access"`
	VerifyTime  string `json:"verify_time"`

	Source Source `json:"data_source"`

	// RawData keeps the upstream payload verbatim for audit. It is an opaque
	// serialized blob; provider schema drift must not break stored rows.
	RawData string `json:"raw_data"`

	IsHistorical bool      `json:"is_historical"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Key returns the composite natural key used for deduplication.
func (r *Record) Key() RecordKey {
	return RecordKey{Company: r.CompanyName, Domain: r.Domain, Licence: r.ServiceLicence}
}

// RecordKey is the exact-match lookup key for a registration record.
type RecordKey struct {
	Company string
	Domain  string
	Licence string
}

// Candidate is a converted provider payload proposed to the reconciliation
// engine. It carries everything a new Record needs except lifecycle fields,
// which the engine owns.
type Candidate struct {
	CompanyName    string
	Domain         string
	ServiceLicence string
	SiteName       string
	SiteLicense    string
	CompanyType    string
	Owner          string
	LimitAccess    string
	VerifyTime     string
	Source         Source
	RawData        string
}

// Key returns the composite natural key the candidate would occupy.
func (c Candidate) Key() RecordKey {
	return RecordKey{Company: c.CompanyName, Domain: c.Domain, Licence: c.ServiceLicence}
}

// StoreStats summarizes the cached record set for the stats endpoint.
type StoreStats struct {
	TotalRecords    int            `json:"total_records"`
	UniqueCompanies int            `json:"unique_companies"`
	UniqueDomains   int            `json:"unique_domains"`
	BySource        map[Source]int `json:"data_sources"`
}
