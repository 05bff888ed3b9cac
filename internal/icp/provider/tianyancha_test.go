package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icpquery/internal/icp/models"
)

// tianyanchaFixture fakes both upstream endpoints behind one server.
type tianyanchaFixture struct {
	client        *Tianyancha
	searchCalls   atomic.Int32
	recordsCalls  atomic.Int32
	searchBody    string
	recordsBody   string
	lastAuthToken atomic.Value
}

func newTianyanchaFixture(t *testing.T) *tianyanchaFixture {
	t.Helper()
	f := &tianyanchaFixture{
		searchBody: `{"error_code": 0, "result": {"items": [{"id": 42, "name": "Acme Ltd"}]}}`,
		recordsBody: `{"state": "ok", "errorCode": 0, "data": {"item": [{
			"companyName": "Acme Ltd",
			"ym": "acme.com",
			"liscense": "ICP-1",
			"webName": "Acme Home",
			"companyType": "enterprise",
			"examineDate": "2026-01-02"
		}]}}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(tianyanchaSearchPath, func(w http.ResponseWriter, r *http.Request) {
		f.searchCalls.Add(1)
		f.lastAuthToken.Store(r.Header.Get("Authorization"))
		fmt.Fprint(w, f.searchBody)
	})
	mux.HandleFunc(tianyanchaICPPath, func(w http.ResponseWriter, r *http.Request) {
		f.recordsCalls.Add(1)
		fmt.Fprint(w, f.recordsBody)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	f.client = NewTianyancha(TianyanchaConfig{
		SearchBaseURL: server.URL,
		ICPBaseURL:    server.URL,
		Token:         "test-token",
		RetryDelay:    time.Millisecond,
		RatePerSec:    1000,
	}, nil, nil)
	return f
}

func TestTianyancha_TwoStepLookup(t *testing.T) {
	f := newTianyanchaFixture(t)

	result, err := f.client.QueryByCompany(context.Background(), "Acme Ltd")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFound, result.Outcome)
	require.Len(t, result.Records, 1)

	c := result.Records[0]
	assert.Equal(t, "Acme Ltd", c.CompanyName)
	assert.Equal(t, "acme.com", c.Domain)
	assert.Equal(t, "ICP-1", c.ServiceLicence)
	assert.Equal(t, "Acme Home", c.SiteName)
	assert.Equal(t, "2026-01-02", c.VerifyTime)
	assert.Equal(t, models.SourceTianyancha, c.Source)

	assert.Equal(t, int32(1), f.searchCalls.Load())
	assert.Equal(t, int32(1), f.recordsCalls.Load())
	assert.Equal(t, "test-token", f.lastAuthToken.Load().(string))
}

func TestTianyancha_RequiresExactNameMatch(t *testing.T) {
	f := newTianyanchaFixture(t)
	f.searchBody = `{"error_code": 0, "result": {"items": [
		{"id": 42, "name": "Acme Ltd Subsidiary"},
		{"id": 43, "name": "Totally Different Co"}
	]}}`

	result, err := f.client.QueryByCompany(context.Background(), "Acme Ltd")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoData, result.Outcome)
	// A fuzzy-only answer is definitive, so the records endpoint is never hit
	// and no retry happens.
	assert.Equal(t, int32(1), f.searchCalls.Load())
	assert.Equal(t, int32(0), f.recordsCalls.Load())
}

func TestTianyancha_SearchErrorCodeIsDefinitive(t *testing.T) {
	f := newTianyanchaFixture(t)
	f.searchBody = `{"error_code": 300001, "reason": "quota exceeded"}`

	result, err := f.client.QueryByCompany(context.Background(), "Acme Ltd")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoData, result.Outcome)
	assert.Equal(t, int32(1), f.searchCalls.Load())
}

func TestTianyancha_RecordsFailureYieldsNoData(t *testing.T) {
	f := newTianyanchaFixture(t)
	f.recordsBody = `{"state": "error", "errorCode": 500, "message": "upstream down"}`

	result, err := f.client.QueryByCompany(context.Background(), "Acme Ltd")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoData, result.Outcome)
}

func TestTianyancha_EmptyRecordListIsDefinitiveEmpty(t *testing.T) {
	f := newTianyanchaFixture(t)
	f.recordsBody = `{"state": "ok", "errorCode": 0, "data": {"item": []}}`

	result, err := f.client.QueryByCompany(context.Background(), "Acme Ltd")
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, result.Outcome)
	assert.Empty(t, result.Records)
}

func TestTianyancha_QueryByDomainIsAlwaysEmpty(t *testing.T) {
	f := newTianyanchaFixture(t)

	result, err := f.client.QueryByDomain(context.Background(), "acme.com")
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, result.Outcome)
	assert.Equal(t, int32(0), f.searchCalls.Load())
}

func TestTianyancha_MissingTokenSkipsNetwork(t *testing.T) {
	f := newTianyanchaFixture(t)
	noToken := NewTianyancha(TianyanchaConfig{
		SearchBaseURL: "http://127.0.0.1:1",
		ICPBaseURL:    "http://127.0.0.1:1",
	}, nil, nil)

	result, err := noToken.QueryByCompany(context.Background(), "Acme Ltd")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoData, result.Outcome)
	assert.Equal(t, int32(0), f.searchCalls.Load())
}

func TestTianyancha_MemoAvoidsRepeatCalls(t *testing.T) {
	f := newTianyanchaFixture(t)

	for i := 0; i < 3; i++ {
		result, err := f.client.QueryByCompany(context.Background(), "Acme Ltd")
		require.NoError(t, err)
		assert.Equal(t, OutcomeFound, result.Outcome)
	}
	assert.Equal(t, int32(1), f.searchCalls.Load())
}

func TestTianyancha_TransportErrorsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewTianyancha(TianyanchaConfig{
		SearchBaseURL: server.URL,
		ICPBaseURL:    server.URL,
		Token:         "test-token",
		RetryDelay:    time.Millisecond,
		RatePerSec:    1000,
	}, nil, nil)

	result, err := client.QueryByCompany(context.Background(), "Acme Ltd")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoData, result.Outcome)
	assert.Equal(t, int32(defaultMaxAttempts), calls.Load())
}
