package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icpquery/internal/icp/models"
)

func newChinazForTest(t *testing.T, handler http.HandlerFunc) (*Chinaz, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewChinaz(ChinazConfig{
		BaseURL:    server.URL,
		APIKey:     "test-key",
		RetryDelay: time.Millisecond,
		RatePerSec: 1000,
	}, nil, nil)
	return client, server
}

func TestChinaz_QueryByCompanyFound(t *testing.T) {
	var gotQuery atomic.Value
	client, _ := newChinazForTest(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query())
		fmt.Fprint(w, `{
			"StateCode": 1,
			"Reason": "",
			"Result": [{
				"UnitName": "Acme Ltd",
				"Domain": "acme.com",
				"ServiceLicence": "ICP-1",
				"SiteLicense": "SL-1",
				"SiteName": "Acme Home",
				"CompanyType": "enterprise",
				"Owner": "A. Founder",
				"LimitAccess": "no",
				"VerifyTime": "2026-01-02 10:00:00"
			}]
		}`)
	})

	result, err := client.QueryByCompany(context.Background(), "Acme Ltd")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFound, result.Outcome)
	require.Len(t, result.Records, 1)

	c := result.Records[0]
	assert.Equal(t, "Acme Ltd", c.CompanyName)
	assert.Equal(t, "acme.com", c.Domain)
	assert.Equal(t, "ICP-1", c.ServiceLicence)
	assert.Equal(t, "Acme Home", c.SiteName)
	assert.Equal(t, models.SourceChinaz, c.Source)
	assert.NotEmpty(t, c.RawData)

	q := gotQuery.Load().(url.Values)
	assert.Equal(t, "Acme Ltd", q.Get("companyname"))
	assert.Equal(t, "test-key", q.Get("APIKey"))
	assert.Equal(t, "1.0", q.Get("ChinazVer"))
}

func TestChinaz_NullResultIsDefinitiveEmpty(t *testing.T) {
	client, _ := newChinazForTest(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"StateCode": 1, "Reason": "", "Result": null}`)
	})

	result, err := client.QueryByCompany(context.Background(), "Nobody Inc")
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, result.Outcome)
	assert.Empty(t, result.Records)
}

func TestChinaz_TransientStateRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	client, _ := newChinazForTest(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			fmt.Fprint(w, `{"StateCode": -1, "Reason": "busy"}`)
			return
		}
		fmt.Fprint(w, `{"StateCode": 1, "Result": [{"UnitName": "Acme Ltd", "Domain": "acme.com", "ServiceLicence": "ICP-1"}]}`)
	})

	result, err := client.QueryByCompany(context.Background(), "Acme Ltd")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFound, result.Outcome)
	assert.Equal(t, int32(3), calls.Load())
}

func TestChinaz_RetriesExhaustedYieldNoData(t *testing.T) {
	var calls atomic.Int32
	client, _ := newChinazForTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"StateCode": -1, "Reason": "busy"}`)
	})

	result, err := client.QueryByCompany(context.Background(), "Acme Ltd")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoData, result.Outcome)
	assert.Equal(t, int32(defaultMaxAttempts), calls.Load())
}

func TestChinaz_DefinitiveFailureDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	client, _ := newChinazForTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"StateCode": 0, "Reason": "invalid key"}`)
	})

	result, err := client.QueryByCompany(context.Background(), "Acme Ltd")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoData, result.Outcome)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChinaz_TransportErrorsRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newChinazForTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	result, err := client.QueryByCompany(context.Background(), "Acme Ltd")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoData, result.Outcome)
	assert.Equal(t, int32(defaultMaxAttempts), calls.Load())
}

func TestChinaz_MissingKeySkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := NewChinaz(ChinazConfig{BaseURL: server.URL}, nil, nil)
	result, err := client.QueryByCompany(context.Background(), "Acme Ltd")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoData, result.Outcome)
	assert.Equal(t, int32(0), calls.Load())
}

func TestChinaz_MemoAvoidsRepeatCalls(t *testing.T) {
	var calls atomic.Int32
	client, _ := newChinazForTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"StateCode": 1, "Result": [{"UnitName": "Acme Ltd", "Domain": "acme.com", "ServiceLicence": "ICP-1"}]}`)
	})

	for i := 0; i < 3; i++ {
		result, err := client.QueryByDomain(context.Background(), "acme.com")
		require.NoError(t, err)
		assert.Equal(t, OutcomeFound, result.Outcome)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestChinaz_CanceledContextStopsRetries(t *testing.T) {
	client, _ := newChinazForTest(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"StateCode": -1}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.QueryByCompany(ctx, "Acme Ltd")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
