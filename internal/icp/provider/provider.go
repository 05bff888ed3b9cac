// Package provider implements the clients for the two external registration
// data sources. Both absorb upstream failure into a "no data" outcome after a
// bounded retry budget; only context cancellation surfaces as an error, so a
// flaky provider can never fail a caller's request outright.
package provider

import (
	"context"
	"net"
	"net/http"
	"time"

	"icpquery/internal/icp/models"
)

// Outcome classifies what a lookup learned, which matters to the orchestrator:
// a definitive empty answer can be cached as "nothing registered", while
// OutcomeNoData means the provider could not be consulted at all.
type Outcome int

const (
	// OutcomeFound: the provider returned at least one record.
	OutcomeFound Outcome = iota
	// OutcomeEmpty: the provider answered definitively that nothing matches.
	OutcomeEmpty
	// OutcomeNoData: unreachable, retries exhausted, credentials missing, or
	// a permanent provider-side failure. The caller moves on to the next
	// provider either way, so the cases stay collapsed.
	OutcomeNoData
)

// Result is the converted answer of one provider lookup.
type Result struct {
	Outcome Outcome
	Records []models.Candidate
}

func found(records []models.Candidate) Result {
	if len(records) == 0 {
		return Result{Outcome: OutcomeEmpty}
	}
	return Result{Outcome: OutcomeFound, Records: records}
}

func empty() Result  { return Result{Outcome: OutcomeEmpty} }
func noData() Result { return Result{Outcome: OutcomeNoData} }

// Client is a single external data source. Implementations convert wire
// payloads into candidates at this boundary so nothing provider-shaped leaks
// upward. The returned error is non-nil only for context cancellation.
type Client interface {
	Source() models.Source
	QueryByCompany(ctx context.Context, name string) (Result, error)
	QueryByDomain(ctx context.Context, domain string) (Result, error)
}

// Retry policy shared by both clients: a fixed attempt budget with a fixed
// pause, no exponential growth. The providers rate-limit aggressively enough
// that backoff buys nothing over a short fixed delay.
const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = time.Second
	defaultTimeout     = 8 * time.Second

	// memoTTL bounds the in-process response memo. A government hierarchy
	// walk plus the follow-up portfolio refresh can hit the same upstream
	// query several times within one request; a short memo absorbs that
	// without weakening the day-granularity store freshness policy.
	memoTTL = time.Minute
)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// sleep pauses between attempts without outliving the request.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
