package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/middleware"
	"github.com/arbiterhq/arbiter/models"
	"github.com/arbiterhq/arbiter/services/ledger"
	"github.com/arbiterhq/arbiter/utils"
)

// defaultAuditPageSize bounds unfiltered record listings.
const defaultAuditPageSize = 100

// AuditHandler handles audit ledger HTTP requests
type AuditHandler struct {
	ledger *ledger.Service
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(led *ledger.Service, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		ledger: led,
		logger: logger,
	}
}

// HandleListRecords handles GET /api/v1/audit/records
func (h *AuditHandler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	filter, err := parseAuditFilter(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	records, listErr := h.ledger.List(ctx, *filter)
	if listErr != nil {
		h.logger.Error("failed to list audit records",
			zap.String("request_id", requestID),
			zap.Error(listErr))
		HandleServiceError(w, listErr, h.logger)
		return
	}

	_ = utils.WriteOK(w, records)
}

// HandleGetRecord handles GET /api/v1/audit/records/{id}
func (h *AuditHandler) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid record ID format", nil)
		return
	}

	record, err := h.ledger.Record(ctx, id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, record)
}

// HandleProof handles GET /api/v1/audit/proof
func (h *AuditHandler) HandleProof(w http.ResponseWriter, r *http.Request) {
	proof, err := h.ledger.LatestProof(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, proof)
}

// HandleVerify handles POST /api/v1/audit/verify. A clean ledger returns
// 200; a tampered one returns 422 with the offending index ranges.
func (h *AuditHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	result, err := h.ledger.Verify(ctx)
	if err != nil {
		h.logger.Error("ledger verification errored",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if !result.Valid {
		h.logger.Warn("ledger verification failed",
			zap.String("request_id", requestID),
			zap.Int("broken_ranges", len(result.Errors)))
		_ = utils.WriteUnprocessable(w, "ledger integrity verification failed",
			map[string]interface{}{"result": result})
		return
	}

	_ = utils.WriteOK(w, result)
}

// parseAuditFilter builds an AuditFilter from list query parameters.
func parseAuditFilter(r *http.Request) (*models.AuditFilter, error) {
	q := r.URL.Query()
	filter := models.AuditFilter{
		OrgID:  q.Get("org_id"),
		RuleID: q.Get("rule_id"),
		Effect: models.Effect(q.Get("effect")),
		Limit:  defaultAuditPageSize,
	}

	if v := q.Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, err
		}
		filter.From = &ts
	}
	if v := q.Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, err
		}
		filter.To = &ts
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	if filter.Effect != "" && !filter.Effect.Valid() {
		return nil, fmt.Errorf("unknown effect %q", filter.Effect)
	}

	return &filter, nil
}
