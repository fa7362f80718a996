package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"duoxme-bridge/internal/auth"
	"duoxme-bridge/internal/handler"
	"duoxme-bridge/internal/middleware"
)

type Deps struct {
	Session   handler.TokenProvider
	Doors     handler.DoorAPI
	Calls     handler.CallAPI
	Listener  handler.ListenerInfo
	Snapshots handler.SnapshotSource
	Ring      handler.RingSource

	TokenConfig  auth.TokenConfig
	MasterSecret string
	AccountID    string
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	authHandler := &handler.AuthHandler{
		MasterSecret: deps.MasterSecret,
		AccountID:    deps.AccountID,
		TokenConfig:  deps.TokenConfig,
		Limiter:      middleware.NewRateLimiter(10, time.Minute),
	}
	r.POST("/v1/auth", authHandler.Auth)

	protected := r.Group("/v1")
	protected.Use(middleware.RequireAuth(deps.TokenConfig))

	snapshotHandler := &handler.SnapshotHandler{Source: deps.Snapshots}
	protected.GET("/snapshot", snapshotHandler.Snapshot)
	protected.GET("/stream", snapshotHandler.Stream)

	ringHandler := &handler.RingHandler{Source: deps.Ring}
	protected.GET("/ring", ringHandler.Ring)

	doorHandler := &handler.DoorHandler{Session: deps.Session, API: deps.Doors, Listener: deps.Listener}
	protected.GET("/doors", doorHandler.List)

	// The relay endpoint gets its own tight budget.
	openLimiter := middleware.NewRateLimiter(5, time.Minute)
	protected.POST("/doors/open", middleware.RateLimitByAccount(openLimiter), doorHandler.Open)

	callHandler := &handler.CallHandler{Session: deps.Session, API: deps.Calls, Listener: deps.Listener}
	protected.GET("/calls", callHandler.List)

	return r
}
