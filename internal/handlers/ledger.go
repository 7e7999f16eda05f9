package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"memoir-ledger/internal/apperrors"
	"memoir-ledger/internal/auth"
	"memoir-ledger/internal/models"
	"memoir-ledger/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LedgerHandler handles the /api ledger endpoints
type LedgerHandler struct {
	services *services.Services
	logger   *zap.Logger
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(svc *services.Services, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{
		services: svc,
		logger:   logger.Named("handlers"),
	}
}

type resolveRequest struct {
	ResolutionAction string  `json:"resolutionAction" binding:"required"`
	Reason           *string `json:"reason"`
}

type dismissRequest struct {
	Reason *string `json:"reason"`
}

type pruneRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type correctRequest struct {
	CorrectedText string `json:"correctedText" binding:"required"`
	Reason        string `json:"reason"`
}

// GetDashboard handles GET /api/dashboard
func (h *LedgerHandler) GetDashboard(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.services.Dashboard.GetDashboard(c.Request.Context(), userID))
}

// ListCorrections handles GET /api/corrections.
// With targetType and targetId it returns that target's history, otherwise
// the user's most recent corrections.
func (h *LedgerHandler) ListCorrections(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit > 500 {
		limit = 500
	}

	targetType := models.TargetType(c.Query("targetType"))
	targetIDStr := c.Query("targetId")
	if targetType == "" && targetIDStr == "" {
		c.JSON(http.StatusOK, gin.H{
			"corrections": h.services.Corrections.ListForUser(c.Request.Context(), userID, limit),
		})
		return
	}

	if !targetType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "targetType must be one of CLAIM, UNIT, EVENT, ENTITY"})
		return
	}
	targetID, err := uuid.Parse(targetIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid targetId format"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"corrections": h.services.Corrections.ListForTarget(c.Request.Context(), userID, targetType, targetID, limit),
	})
}

// ResolveContradiction handles POST /api/contradictions/:id/resolve
func (h *LedgerHandler) ResolveContradiction(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "resolutionAction is required"})
		return
	}

	_, _, err := h.services.Contradictions.Resolve(c.Request.Context(), userID, id, models.ResolutionAction(req.ResolutionAction), req.Reason)
	if err != nil {
		status, message := h.classify(err, "resolve contradiction")
		c.JSON(status, gin.H{"success": false, "message": message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Contradiction resolved"})
}

// DismissContradiction handles POST /api/contradictions/:id/dismiss
func (h *LedgerHandler) DismissContradiction(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req dismissRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
			return
		}
	}

	_, _, err := h.services.Contradictions.Dismiss(c.Request.Context(), userID, id, req.Reason)
	if err != nil {
		status, message := h.classify(err, "dismiss contradiction")
		c.JSON(status, gin.H{"success": false, "message": message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Contradiction dismissed"})
}

// PruneUnit handles POST /api/units/:id/prune
func (h *LedgerHandler) PruneUnit(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req pruneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}

	if _, err := h.services.Deprecation.Prune(c.Request.Context(), userID, id, req.Reason); err != nil {
		h.respondError(c, err, "prune unit")
		return
	}
	c.Status(http.StatusNoContent)
}

// RestoreUnit handles POST /api/units/:id/restore
func (h *LedgerHandler) RestoreUnit(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	if _, err := h.services.Deprecation.Restore(c.Request.Context(), userID, id); err != nil {
		h.respondError(c, err, "restore unit")
		return
	}
	c.Status(http.StatusNoContent)
}

// CorrectUnit handles POST /api/units/:id/correct
func (h *LedgerHandler) CorrectUnit(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req correctRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "correctedText is required"})
		return
	}

	if _, err := h.services.Deprecation.Correct(c.Request.Context(), userID, id, req.CorrectedText, req.Reason); err != nil {
		h.respondError(c, err, "correct unit")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *LedgerHandler) requireUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User authentication required"})
		return uuid.Nil, false
	}
	return userID, true
}

func (h *LedgerHandler) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id format"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *LedgerHandler) respondError(c *gin.Context, err error, op string) {
	status, message := h.classify(err, op)
	c.JSON(status, gin.H{"error": message})
}

// classify maps a service error to a status code and a message safe to show
func (h *LedgerHandler) classify(err error, op string) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, apperrors.ErrAlreadyResolved):
		return http.StatusConflict, "Contradiction already resolved"
	}

	h.logger.Error("Ledger request failed",
		zap.String("operation", op),
		zap.Error(err))
	return http.StatusInternalServerError, "Failed to " + op
}
