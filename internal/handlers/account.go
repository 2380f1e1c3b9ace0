package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jms/internal/database"
	"jms/internal/logger"
	"jms/internal/middleware"
)

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) handleChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	user := middleware.CurrentUser(c)
	if err := h.store.ChangePassword(c.Request.Context(), user.Username, req.CurrentPassword, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password changed"})
}

// handleRecovery consumes a master key and resets the administrator to the
// default password. It is the only write endpoint without authentication.
func (h *Handler) handleRecovery(c *gin.Context) {
	var req struct {
		MasterKey string `json:"master_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	ctx := c.Request.Context()
	if err := h.store.UseMasterKey(ctx, req.MasterKey); err != nil {
		respondError(c, err)
		return
	}

	if h.mail.IsEnabled() {
		stats, err := h.store.MasterKeyStats(ctx)
		if err != nil {
			logger.Warn("Failed to read master key stats", "error", err)
		}
		code, _ := database.NormalizeMasterKey(req.MasterKey)
		if err := h.mail.SendRecoveryAlert(code, stats.Remaining, time.Now()); err != nil {
			logger.Warn("Failed to send recovery alert", "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Administrator password reset",
		"username": database.DefaultAdminUsername,
	})
}
