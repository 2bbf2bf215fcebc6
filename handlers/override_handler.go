package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/middleware"
	"github.com/arbiterhq/arbiter/services/override"
	"github.com/arbiterhq/arbiter/utils"
)

// ResolveOverrideRequest is the body of an override resolution call.
type ResolveOverrideRequest struct {
	Approve       *bool  `json:"approve" validate:"required"`
	ActorID       string `json:"actor_id"`
	Role          string `json:"role" validate:"required"`
	Justification string `json:"justification"`
}

// OverrideHandler handles override gate HTTP requests
type OverrideHandler struct {
	gate   *override.Gate
	logger *zap.Logger
}

// NewOverrideHandler creates a new OverrideHandler
func NewOverrideHandler(gate *override.Gate, logger *zap.Logger) *OverrideHandler {
	return &OverrideHandler{
		gate:   gate,
		logger: logger,
	}
}

// HandleGetOverride handles GET /api/v1/overrides/{decision_id}
func (h *OverrideHandler) HandleGetOverride(w http.ResponseWriter, r *http.Request) {
	decisionID, err := uuid.Parse(chi.URLParam(r, "decision_id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid decision ID format", nil)
		return
	}

	ov, err := h.gate.Get(r.Context(), decisionID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, ov)
}

// HandleResolveOverride handles POST /api/v1/overrides/{decision_id}.
// The first resolution wins; later calls get a conflict.
func (h *OverrideHandler) HandleResolveOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	decisionID, err := uuid.Parse(chi.URLParam(r, "decision_id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid decision ID format", nil)
		return
	}

	var req ResolveOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	// When the caller presented a token, the actor is the token subject and
	// the asserted role must actually be carried by the token.
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		req.ActorID = claims.Subject
		if !claims.HasRole(req.Role) {
			h.logger.Warn("override role not carried by token",
				zap.String("request_id", requestID),
				zap.String("asserted_role", req.Role),
				zap.Strings("token_roles", claims.Roles))
			_ = utils.WriteForbidden(w, "Token does not carry the asserted role")
			return
		}
	}
	if req.ActorID == "" {
		_ = utils.WriteBadRequest(w, "actor_id is required", nil)
		return
	}

	ov, err := h.gate.Submit(ctx, decisionID, req.ActorID, req.Role, req.Justification, *req.Approve)
	if err != nil {
		h.logger.Warn("override resolution rejected",
			zap.String("request_id", requestID),
			zap.String("decision_id", decisionID.String()),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("override resolved",
		zap.String("request_id", requestID),
		zap.String("decision_id", decisionID.String()),
		zap.String("state", string(ov.State)),
		zap.String("resolved_by", ov.ResolvedBy))

	_ = utils.WriteOK(w, ov)
}
