package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type RingSource interface {
	Ring() (bool, time.Time)
}

type RingHandler struct {
	Source RingSource
}

// Ring reports the doorbell's ringing state: on after a call delivered an
// image, off again once a non-call notification arrives.
func (h *RingHandler) Ring(c *gin.Context) {
	ring, changedAt := h.Source.Ring()
	resp := gin.H{"ring": ring}
	if !changedAt.IsZero() {
		resp["changedAt"] = changedAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}
