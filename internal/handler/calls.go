package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"duoxme-bridge/internal/model"
)

type CallAPI interface {
	CallRegistry(ctx context.Context, accessToken, appToken string) ([]model.CallRecord, error)
}

type CallHandler struct {
	Session  TokenProvider
	API      CallAPI
	Listener ListenerInfo
}

// List passes the cloud call registry through for this bridge's push
// identity.
func (h *CallHandler) List(c *gin.Context) {
	appToken := h.Listener.DeviceToken()
	if appToken == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Listener not ready"})
		return
	}

	token, err := h.Session.AccessToken(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Cloud session unavailable"})
		return
	}
	records, err := h.API.CallRegistry(c.Request.Context(), token, appToken)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Call registry unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": records})
}
