package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/middleware"
	"github.com/arbiterhq/arbiter/models"
	"github.com/arbiterhq/arbiter/services/decision"
	"github.com/arbiterhq/arbiter/utils"
)

// DecisionRequest is the body of an evaluate or route call.
type DecisionRequest struct {
	PolicyID string                    `json:"policy_id" validate:"required"`
	Request  models.Request            `json:"request" validate:"required"`
	Routing  *models.RoutingPreference `json:"routing,omitempty"`
}

// DecisionHandler handles decision-related HTTP requests
type DecisionHandler struct {
	svc    *decision.Service
	logger *zap.Logger
}

// NewDecisionHandler creates a new DecisionHandler
func NewDecisionHandler(svc *decision.Service, logger *zap.Logger) *DecisionHandler {
	return &DecisionHandler{
		svc:    svc,
		logger: logger,
	}
}

// HandleEvaluate handles POST /api/v1/decisions/evaluate. Evaluation is a
// simulation: no audit record, no routing, no override registration.
func (h *DecisionHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}

	outcome, err := h.svc.Evaluate(ctx, req.PolicyID, &req.Request)
	if err != nil {
		h.logger.Warn("evaluation failed",
			zap.String("request_id", requestID),
			zap.String("policy_id", req.PolicyID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("request evaluated",
		zap.String("request_id", requestID),
		zap.String("policy_id", req.PolicyID),
		zap.String("effect", string(outcome.Effect)))

	_ = utils.WriteOK(w, outcome)
}

// HandleRoute handles POST /api/v1/decisions/route. This is the live path:
// the verdict is committed to the audit ledger and, for routed effects, a
// target is selected from the rule's pool.
func (h *DecisionHandler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}

	outcome, err := h.svc.Route(ctx, req.PolicyID, &req.Request, req.Routing)
	if err != nil {
		h.logger.Warn("routing decision failed",
			zap.String("request_id", requestID),
			zap.String("policy_id", req.PolicyID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("decision committed",
		zap.String("request_id", requestID),
		zap.String("policy_id", req.PolicyID),
		zap.String("decision_id", outcome.DecisionID.String()),
		zap.String("effect", string(outcome.Effect)),
		zap.Int64("audit_index", outcome.AuditIndex))

	if outcome.PendingOverride {
		_ = utils.WriteAccepted(w, outcome)
		return
	}
	_ = utils.WriteOK(w, outcome)
}

// parseRequest decodes and validates the shared decision request body.
func (h *DecisionHandler) parseRequest(w http.ResponseWriter, r *http.Request) (*DecisionRequest, bool) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return nil, false
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return nil, false
	}

	// Callers authenticated with an org-scoped token decide for their own
	// org regardless of what the body claims.
	if orgID := middleware.GetOrgIDFromContext(r.Context()); orgID != "" {
		req.Request.OrgID = orgID
	}

	return &req, true
}
