package handlers

import (
	"net/http"

	"memoir-ledger/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminHandler serves the operator endpoints for audit reconciliation
type AdminHandler struct {
	reconciler *services.AuditReconciler
	password   string
	logger     *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(reconciler *services.AuditReconciler, password string, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		reconciler: reconciler,
		password:   password,
		logger:     logger.Named("admin"),
	}
}

// AdminAuth middleware for basic password protection
func (h *AdminHandler) AdminAuth() gin.HandlerFunc {
	return gin.BasicAuth(gin.Accounts{
		"admin": h.password,
	})
}

// GetAuditGaps handles GET /admin/audit-gaps/:user
func (h *AdminHandler) GetAuditGaps(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id is required"})
		return
	}

	report, err := h.reconciler.FindGaps(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to find audit gaps", zap.String("user_id", userID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to find audit gaps"})
		return
	}

	c.JSON(http.StatusOK, report)
}

// RepairAuditGaps handles POST /admin/audit-gaps/:user/repair
func (h *AdminHandler) RepairAuditGaps(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id is required"})
		return
	}

	report, repaired, err := h.reconciler.Repair(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to repair audit gaps", zap.String("user_id", userID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "Failed to repair audit gaps",
			"repaired": len(repaired),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"report":   report,
		"repaired": repaired,
	})
}
