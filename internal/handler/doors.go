package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"duoxme-bridge/internal/model"
)

type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

type DoorAPI interface {
	OpenDoor(ctx context.Context, accessToken, deviceID string, accessID model.AccessID) error
}

// ListenerInfo exposes the slice of listener state the handlers need.
type ListenerInfo interface {
	Pairings() []model.Pairing
	DeviceToken() string
}

type DoorHandler struct {
	Session  TokenProvider
	API      DoorAPI
	Listener ListenerInfo
}

type doorView struct {
	DeviceID string         `json:"deviceId"`
	Tag      string         `json:"tag"`
	Key      string         `json:"key"`
	Title    string         `json:"title"`
	AccessID model.AccessID `json:"accessId"`
}

// List returns the visible doors across all paired devices.
func (h *DoorHandler) List(c *gin.Context) {
	doors := []doorView{}
	for _, pairing := range h.Listener.Pairings() {
		for key, door := range pairing.AccessDoorMap {
			if !door.Visible {
				continue
			}
			doors = append(doors, doorView{
				DeviceID: pairing.DeviceID,
				Tag:      pairing.Tag,
				Key:      key,
				Title:    door.Title,
				AccessID: door.AccessID,
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"doors": doors})
}

type openDoorBody struct {
	DeviceID string         `json:"deviceId"`
	AccessID model.AccessID `json:"accessId"`
}

// Open triggers the relay for one door. The device must be one of the
// account's pairings.
func (h *DoorHandler) Open(c *gin.Context) {
	var body openDoorBody
	if err := c.ShouldBindJSON(&body); err != nil || body.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	known := false
	for _, pairing := range h.Listener.Pairings() {
		if pairing.DeviceID == body.DeviceID {
			known = true
			break
		}
	}
	if !known {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown device"})
		return
	}

	token, err := h.Session.AccessToken(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Cloud session unavailable"})
		return
	}
	if err := h.API.OpenDoor(c.Request.Context(), token, body.DeviceID, body.AccessID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Door open failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
