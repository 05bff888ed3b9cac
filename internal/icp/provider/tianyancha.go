package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"icpquery/internal/icp/models"
	"icpquery/internal/platform/metrics"
)

const (
	tianyanchaSearchBaseURL = "http://open.api.tianyancha.com"
	tianyanchaSearchPath    = "/services/open/search/2.0"
	tianyanchaICPBaseURL    = "https://api9.tianyancha.com"
	tianyanchaICPPath       = "/cloud-intellectual-property/intellectualProperty/icpRecordList"

	tianyanchaSearchPageSize = 20
	tianyanchaICPPageSize    = 10
)

// TianyanchaConfig configures the second-priority provider client.
type TianyanchaConfig struct {
	SearchBaseURL string
	ICPBaseURL    string
	Token         string
	Timeout       time.Duration
	MaxAttempts   int
	RetryDelay    time.Duration
	RatePerSec    float64
}

// Tianyancha resolves company registrations through a two-step protocol:
// a name search yields an internal company ID (accepted only on an exact name
// match), then a second call fetches that company's registration records.
// It has no domain search; domain lookups answer definitively empty.
type Tianyancha struct {
	cfg     TianyanchaConfig
	client  *http.Client
	limiter *rate.Limiter
	memo    *gocache.Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewTianyancha constructs the tianyancha client. A missing token yields a
// client that short-circuits every lookup to "no data" without network I/O.
func NewTianyancha(cfg TianyanchaConfig, logger *slog.Logger, m *metrics.Metrics) *Tianyancha {
	if cfg.SearchBaseURL == "" {
		cfg.SearchBaseURL = tianyanchaSearchBaseURL
	}
	if cfg.ICPBaseURL == "" {
		cfg.ICPBaseURL = tianyanchaICPBaseURL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Tianyancha{
		cfg:     cfg,
		client:  newHTTPClient(cfg.Timeout),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		memo:    gocache.New(memoTTL, 5*time.Minute),
		logger:  logger,
		metrics: m,
	}
}

func (t *Tianyancha) Source() models.Source { return models.SourceTianyancha }

// QueryByDomain is unsupported upstream; the orchestrator only consults this
// provider for company portfolios.
func (t *Tianyancha) QueryByDomain(ctx context.Context, domain string) (Result, error) {
	return empty(), nil
}

func (t *Tianyancha) QueryByCompany(ctx context.Context, name string) (Result, error) {
	if t.cfg.Token == "" {
		t.logger.WarnContext(ctx, "tianyancha token not configured, skipping lookup")
		return noData(), nil
	}
	if cached, ok := t.memo.Get(name); ok {
		return cached.(Result), nil
	}

	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, t.cfg.RetryDelay); err != nil {
				return noData(), err
			}
		}
		if err := t.limiter.Wait(ctx); err != nil {
			return noData(), err
		}

		result, retry, err := t.attempt(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return noData(), ctx.Err()
			}
			t.logger.WarnContext(ctx, "tianyancha lookup failed",
				"company", name, "attempt", attempt, "error", err)
			continue
		}
		if retry {
			continue
		}

		t.observe(result)
		if result.Outcome != OutcomeNoData {
			t.memo.Set(name, result, gocache.DefaultExpiration)
		}
		return result, nil
	}

	t.logger.ErrorContext(ctx, "tianyancha retries exhausted", "company", name)
	t.observe(noData())
	return noData(), nil
}

type tianyanchaSearchEnvelope struct {
	ErrorCode int    `json:"error_code"`
	Reason    string `json:"reason"`
	Result    struct {
		Items []tianyanchaSearchItem `json:"items"`
	} `json:"result"`
}

type tianyanchaSearchItem struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type tianyanchaICPEnvelope struct {
	State     string `json:"state"`
	Message   string `json:"message"`
	ErrorCode int    `json:"errorCode"`
	Data      struct {
		Items []tianyanchaICPItem `json:"item"`
	} `json:"data"`
}

type tianyanchaICPItem struct {
	CompanyName string `json:"companyName"`
	Domain      string `json:"ym"`
	Licence     string `json:"liscense"`
	WebName     string `json:"webName"`
	CompanyType string `json:"companyType"`
	ExamineDate string `json:"examineDate"`
}

// attempt runs the full two-step protocol once.
func (t *Tianyancha) attempt(ctx context.Context, name string) (Result, bool, error) {
	companyID, ok, err := t.searchCompany(ctx, name)
	if err != nil {
		return noData(), false, err
	}
	if !ok {
		// No exact name match among candidates is a definitive answer, not a
		// transient failure: retrying would return the same candidate list.
		return noData(), false, nil
	}

	items, err := t.fetchRecords(ctx, companyID)
	if err != nil {
		return noData(), false, err
	}
	if items == nil {
		return noData(), false, nil
	}

	candidates := make([]models.Candidate, 0, len(items))
	for _, item := range items {
		rawItem, _ := json.Marshal(item)
		candidates = append(candidates, models.Candidate{
			CompanyName:    item.CompanyName,
			Domain:         item.Domain,
			ServiceLicence: item.Licence,
			SiteName:       item.WebName,
			CompanyType:    item.CompanyType,
			VerifyTime:     item.ExamineDate,
			Source:         models.SourceTianyancha,
			RawData:        string(rawItem),
		})
	}
	return found(candidates), false, nil
}

// searchCompany resolves a company name to its internal ID. Only an exact
// string match among returned candidates is accepted; anything fuzzier risks
// pulling a different organization's portfolio into the cache.
func (t *Tianyancha) searchCompany(ctx context.Context, name string) (int64, bool, error) {
	endpoint := t.cfg.SearchBaseURL + tianyanchaSearchPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, false, fmt.Errorf("create search request: %w", err)
	}
	q := url.Values{}
	q.Set("word", name)
	q.Set("pageSize", strconv.Itoa(tianyanchaSearchPageSize))
	q.Set("pageNum", "1")
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", t.cfg.Token)

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("tianyancha search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, false, fmt.Errorf("unexpected search status: %d", resp.StatusCode)
	}

	var envelope tianyanchaSearchEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return 0, false, fmt.Errorf("decode search response: %w", err)
	}
	if envelope.ErrorCode != 0 {
		t.logger.ErrorContext(ctx, "tianyancha search failed",
			"company", name, "error_code", envelope.ErrorCode, "reason", envelope.Reason)
		return 0, false, nil
	}

	for _, item := range envelope.Result.Items {
		if item.Name == name {
			return item.ID, true, nil
		}
	}
	t.logger.InfoContext(ctx, "tianyancha search found no exact match",
		"company", name, "candidates", len(envelope.Result.Items))
	return 0, false, nil
}

// fetchRecords pulls the registration list for a resolved company ID.
// A nil slice signals a provider-side failure envelope.
func (t *Tianyancha) fetchRecords(ctx context.Context, companyID int64) ([]tianyanchaICPItem, error) {
	endpoint := t.cfg.ICPBaseURL + tianyanchaICPPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create records request: %w", err)
	}
	q := url.Values{}
	q.Set("id", strconv.FormatInt(companyID, 10))
	q.Set("pageNum", "1")
	q.Set("pageSize", strconv.Itoa(tianyanchaICPPageSize))
	req.URL.RawQuery = q.Encode()

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tianyancha records: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected records status: %d", resp.StatusCode)
	}

	var envelope tianyanchaICPEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode records response: %w", err)
	}
	if envelope.State != "ok" || envelope.ErrorCode != 0 {
		t.logger.ErrorContext(ctx, "tianyancha records failed",
			"company_id", companyID, "state", envelope.State, "message", envelope.Message)
		return nil, nil
	}
	return envelope.Data.Items, nil
}

func (t *Tianyancha) observe(r Result) {
	switch r.Outcome {
	case OutcomeFound:
		t.metrics.ObserveProvider(string(models.SourceTianyancha), "found")
	case OutcomeEmpty:
		t.metrics.ObserveProvider(string(models.SourceTianyancha), "empty")
	default:
		t.metrics.ObserveProvider(string(models.SourceTianyancha), "no_data")
	}
}
