package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"icpquery/internal/icp/models"
	"icpquery/internal/platform/metrics"
)

const (
	chinazDefaultBaseURL = "http://openapiu67.chinaz.net"
	chinazQueryPath      = "/v1/1001/sponsorunit"
	chinazVersion        = "1.0"

	// Response state codes.
	chinazStateOK        = 1
	chinazStateTransient = -1
)

// ChinazConfig configures the highest-trust provider client.
type ChinazConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	// RatePerSec throttles outbound calls; the upstream meters by key.
	RatePerSec float64
}

// Chinaz queries the chinaz registration API. Company and domain lookups share
// one endpoint upstream; the keyword is either a company name or a domain.
type Chinaz struct {
	cfg     ChinazConfig
	client  *http.Client
	limiter *rate.Limiter
	memo    *gocache.Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewChinaz constructs the chinaz client. A missing API key yields a client
// that short-circuits every lookup to "no data" without network I/O.
func NewChinaz(cfg ChinazConfig, logger *slog.Logger, m *metrics.Metrics) *Chinaz {
	if cfg.BaseURL == "" {
		cfg.BaseURL = chinazDefaultBaseURL
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
	return &Chinaz{
		cfg:     cfg,
		client:  newHTTPClient(cfg.Timeout),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		memo:    gocache.New(memoTTL, 5*time.Minute),
		logger:  logger,
		metrics: m,
	}
}

func (c *Chinaz) Source() models.Source { return models.SourceChinaz }

func (c *Chinaz) QueryByCompany(ctx context.Context, name string) (Result, error) {
	return c.query(ctx, name)
}

func (c *Chinaz) QueryByDomain(ctx context.Context, domain string) (Result, error) {
	return c.query(ctx, domain)
}

// chinazEnvelope is the wire response. Result stays raw so a null body and an
// empty list both decode cleanly.
type chinazEnvelope struct {
	StateCode int             `json:"StateCode"`
	Reason    string          `json:"Reason"`
	Result    json.RawMessage `json:"Result"`
}

type chinazRecord struct {
	UnitName       string `json:"UnitName"`
	Domain         string `json:"Domain"`
	ServiceLicence string `json:"ServiceLicence"`
	SiteLicense    string `json:"SiteLicense"`
	SiteName       string `json:"SiteName"`
	CompanyType    string `json:"CompanyType"`
	Owner          string `json:"Owner"`
	LimitAccess    string `json:"LimitAccess"`
	VerifyTime     string `json:"VerifyTime"`
}

func (c *Chinaz) query(ctx context.Context, keyword string) (Result, error) {
	if c.cfg.APIKey == "" {
		c.logger.WarnContext(ctx, "chinaz api key not configured, skipping lookup")
		return noData(), nil
	}
	if cached, ok := c.memo.Get(keyword); ok {
		return cached.(Result), nil
	}

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, c.cfg.RetryDelay); err != nil {
				return noData(), err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return noData(), err
		}

		result, retry, err := c.attempt(ctx, keyword)
		if err != nil {
			if ctx.Err() != nil {
				return noData(), ctx.Err()
			}
			c.logger.WarnContext(ctx, "chinaz lookup failed",
				"keyword", keyword, "attempt", attempt, "error", err)
			continue
		}
		if retry {
			c.logger.WarnContext(ctx, "chinaz reported transient state",
				"keyword", keyword, "attempt", attempt)
			continue
		}

		c.observe(result)
		if result.Outcome != OutcomeNoData {
			c.memo.Set(keyword, result, gocache.DefaultExpiration)
		}
		return result, nil
	}

	c.logger.ErrorContext(ctx, "chinaz retries exhausted", "keyword", keyword)
	c.observe(noData())
	return noData(), nil
}

// attempt performs one upstream call. retry=true signals a transient state
// worth another attempt; err covers transport failures (also retried by the
// caller up to the budget).
func (c *Chinaz) attempt(ctx context.Context, keyword string) (Result, bool, error) {
	endpoint := c.cfg.BaseURL + chinazQueryPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return noData(), false, fmt.Errorf("create request: %w", err)
	}
	q := url.Values{}
	q.Set("companyname", keyword)
	q.Set("APIKey", c.cfg.APIKey)
	q.Set("ChinazVer", chinazVersion)
	req.URL.RawQuery = q.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return noData(), false, fmt.Errorf("chinaz request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return noData(), false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var envelope chinazEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return noData(), false, fmt.Errorf("decode response: %w", err)
	}

	switch envelope.StateCode {
	case chinazStateOK:
		records, err := c.convert(envelope.Result)
		if err != nil {
			return noData(), false, fmt.Errorf("decode result: %w", err)
		}
		return found(records), false, nil
	case chinazStateTransient:
		return noData(), true, nil
	default:
		// Permanent provider-side failure (bad key, quota, unknown state):
		// not worth retrying, absorbed to no data.
		c.logger.ErrorContext(ctx, "chinaz definitive failure",
			"keyword", keyword, "state_code", envelope.StateCode, "reason", envelope.Reason)
		return noData(), false, nil
	}
}

func (c *Chinaz) convert(raw json.RawMessage) ([]models.Candidate, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []chinazRecord
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	candidates := make([]models.Candidate, 0, len(items))
	for _, item := range items {
		rawItem, _ := json.Marshal(item)
		candidates = append(candidates, models.Candidate{
			CompanyName:    item.UnitName,
			Domain:         item.Domain,
			ServiceLicence: item.ServiceLicence,
			SiteName:       item.SiteName,
			SiteLicense:    item.SiteLicense,
			CompanyType:    item.CompanyType,
			Owner:          item.Owner,
			LimitAccess:    item.LimitAccess,
			VerifyTime:     item.VerifyTime,
			Source:         models.SourceChinaz,
			RawData:        string(rawItem),
		})
	}
	return candidates, nil
}

func (c *Chinaz) observe(r Result) {
	switch r.Outcome {
	case OutcomeFound:
		c.metrics.ObserveProvider(string(models.SourceChinaz), "found")
	case OutcomeEmpty:
		c.metrics.ObserveProvider(string(models.SourceChinaz), "empty")
	default:
		c.metrics.ObserveProvider(string(models.SourceChinaz), "no_data")
	}
}
