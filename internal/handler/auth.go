package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"duoxme-bridge/internal/auth"
	"duoxme-bridge/internal/middleware"
)

// AuthHandler exchanges the bridge's master secret for a bearer token. The
// bridge serves one Fermax account, so the account id is fixed at startup.
type AuthHandler struct {
	MasterSecret string
	AccountID    string
	TokenConfig  auth.TokenConfig
	Limiter      *middleware.RateLimiter
}

type authBody struct {
	Secret string `json:"secret"`
}

func (h *AuthHandler) Auth(c *gin.Context) {
	if h.Limiter != nil && !h.Limiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
		return
	}

	var body authBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(body.Secret), []byte(h.MasterSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid secret"})
		return
	}

	token, err := auth.CreateToken(h.AccountID, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
