// Package handler exposes the lookup service over HTTP. Every query endpoint
// answers the same envelope: status 0 with a data array on success (possibly
// empty), status 1 with an error message on failure.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"icpquery/internal/icp/domainutil"
	"icpquery/internal/icp/models"
	"icpquery/internal/platform/metrics"
	"icpquery/internal/platform/middleware"
	dErrors "icpquery/pkg/domain-errors"
	"icpquery/pkg/requestcontext"
)

const requestTimeout = 60 * time.Second

// Service is the lookup surface the handler depends on.
type Service interface {
	SearchByCompany(ctx context.Context, name string, force, includeHistory bool) ([]models.FormattedRecord, error)
	SearchByDomain(ctx context.Context, word string, force, includeHistory bool) ([]models.FormattedRecord, error)
	SearchCompanyHistoryDomains(ctx context.Context, name string) ([]models.FormattedRecord, error)
	Stats(ctx context.Context) (*models.StoreStats, error)
}

// Handler handles the registration lookup endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
	metrics *metrics.Metrics
	authKey string
}

// New creates a lookup Handler.
func New(service Service, logger *slog.Logger, m *metrics.Metrics, authKey string) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
		metrics: m,
		authKey: authKey,
	}
}

// Register mounts the lookup routes with their middleware chain.
func (h *Handler) Register(r chi.Router) {
	icpRouter := chi.NewRouter()
	icpRouter.Use(middleware.Recovery(h.logger))
	icpRouter.Use(middleware.RequestID)
	icpRouter.Use(middleware.Logger(h.logger))
	icpRouter.Use(middleware.Timeout(requestTimeout))
	icpRouter.Use(middleware.Latency(h.metrics))
	icpRouter.Use(middleware.RequireAuthKey(h.authKey, h.logger))
	icpRouter.Get("/icp/company/search", h.handleCompanySearch)
	icpRouter.Get("/icp/company/search/history", h.handleCompanyHistory)
	icpRouter.Get("/icp/search", h.handleDomainSearch)
	icpRouter.Get("/icp/stats", h.handleStats)

	r.Mount("/", icpRouter)
}

// handleCompanySearch answers GET /icp/company/search?word&force&history.
func (h *Handler) handleCompanySearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	word := r.URL.Query().Get("word")

	records, err := h.service.SearchByCompany(ctx, word, boolParam(r, "force"), boolParam(r, "history"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeRecords(w, r, records)
}

// handleCompanyHistory answers GET /icp/company/search/history?word.
func (h *Handler) handleCompanyHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	word := r.URL.Query().Get("word")

	records, err := h.service.SearchCompanyHistoryDomains(ctx, word)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeRecords(w, r, records)
}

// handleDomainSearch answers GET /icp/search?word&force&history. The word is
// validated before any provider traffic; garbage input must not burn provider
// quota.
func (h *Handler) handleDomainSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	word := domainutil.Normalize(r.URL.Query().Get("word"))

	if !domainutil.IsValidDomainOrIP(word) {
		h.logger.InfoContext(ctx, "rejected invalid domain query",
			"word", word,
			"request_id", requestcontext.RequestID(ctx),
		)
		h.writeEnvelope(w, http.StatusOK, models.SearchResponse{
			Status:       1,
			ErrorMessage: "invalid domain or IP",
			Data:         []models.FormattedRecord{},
		})
		return
	}

	records, err := h.service.SearchByDomain(ctx, word, boolParam(r, "force"), boolParam(r, "history"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeRecords(w, r, records)
}

// handleStats answers GET /icp/stats with cache totals.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.service.Stats(ctx)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeEnvelope(w, http.StatusOK, statsResponse{Status: 0, Data: stats})
}

type statsResponse struct {
	Status       int                `json:"status"`
	ErrorMessage string             `json:"error_message"`
	Data         *models.StoreStats `json:"data"`
}

func (h *Handler) writeRecords(w http.ResponseWriter, r *http.Request, records []models.FormattedRecord) {
	h.writeEnvelope(w, http.StatusOK, models.SearchResponse{Status: 0, Data: records})
}

// writeFailure maps a lookup error into the envelope. Callers consume the
// status field, so failures still answer HTTP 200 except for genuine server
// faults.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "lookup failed",
		"path", r.URL.Path,
		"error", err,
		"request_id", requestcontext.RequestID(r.Context()),
	)
	code := http.StatusOK
	if dErrors.HasCode(err, dErrors.CodeInternal) {
		code = http.StatusInternalServerError
	}
	h.writeEnvelope(w, code, models.SearchResponse{
		Status:       1,
		ErrorMessage: dErrors.MessageFor(err),
		Data:         []models.FormattedRecord{},
	})
}

func (h *Handler) writeEnvelope(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func boolParam(r *http.Request, name string) bool {
	switch r.URL.Query().Get(name) {
	case "1", "true", "yes":
		return true
	}
	return false
}
