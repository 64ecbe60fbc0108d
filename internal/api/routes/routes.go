package routes

import (
	"time"

	"presence-service/internal/api/handlers"
	"presence-service/internal/api/middleware"
	"presence-service/internal/repository"
	"presence-service/internal/service"
	"presence-service/internal/websocket"

	"github.com/gin-gonic/gin"
)

type Router struct {
	engine          *gin.Engine
	wsHandler       *handlers.WSHandler
	presenceHandler *handlers.PresenceHandler
	rateLimitMW     *middleware.RateLimitMiddleware
	authMW          *middleware.AuthMiddleware
}

func NewRouter(
	hub *websocket.Hub,
	presenceService *service.PresenceService,
	presenceRepo repository.PresenceRepository,
	jwtSecret string,
	sendQueueSize int,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.LogApi())

	return &Router{
		engine:          engine,
		wsHandler:       handlers.NewWSHandler(hub, sendQueueSize),
		presenceHandler: handlers.NewPresenceHandler(presenceService),
		rateLimitMW:     middleware.NewRateLimitMiddleware(presenceRepo),
		authMW:          middleware.NewAuthMiddleware(jwtSecret),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.engine.Group("/api/v1")

	// Push channel: token in query, browsers cannot set headers here.
	api.GET("/ws",
		r.authMW.RequireWSAuth(),
		r.rateLimitMW.WebSocketRateLimit(10, time.Minute),
		r.wsHandler.HandleWebSocket,
	)

	auth := api.Group("/")
	auth.Use(r.authMW.RequireAuth())
	{
		auth.GET("/presence",
			r.rateLimitMW.RateLimit(60, time.Minute),
			r.presenceHandler.GetSnapshot,
		)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
