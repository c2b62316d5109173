package handlers

import (
	"thermocycler/internal/logger"
	"thermocycler/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", h.health)

	h.registerAuthRoutes(router)

	// Versioned API endpoints (protected)
	h.registerAPIRoutes(router)

	// Live telemetry and run status over the same port
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.userIdMiddleware)
	{
		h.registerProtocolRoutes(api)
		h.registerRunRoutes(api)
		h.registerTelemetryRoutes(api)
		h.registerBoardRoutes(api)
		h.registerLogRoutes(api)
	}
}

func (h *Handler) registerProtocolRoutes(api *gin.RouterGroup) {
	protocols := api.Group("/protocols")
	{
		// Body example: {"protocol":"95,30\n--CYCLE,30,loops\n95,10\n55,20\n--ENDCYCLE"}
		protocols.POST("/compile", h.compileProtocol)
	}
}

func (h *Handler) registerRunRoutes(api *gin.RouterGroup) {
	runs := api.Group("/runs")
	{
		runs.POST("/start", h.startRun)
		runs.POST("/stop", h.stopRun)
		runs.GET("/status", h.runStatus)
		runs.GET("/history", h.runHistory)
		runs.GET("/:id/samples", h.runSamples)
	}
}

func (h *Handler) registerTelemetryRoutes(api *gin.RouterGroup) {
	api.GET("/telemetry", h.getTelemetry)
}

func (h *Handler) registerBoardRoutes(api *gin.RouterGroup) {
	board := api.Group("/board")
	{
		board.GET("", h.boardState)
		board.POST("/backlight", h.setBacklight)
		board.POST("/magnet", h.setMagnet)
		board.POST("/pcr", h.runHeaterProgram)
		board.POST("/pcr/stop", h.stopHeaterProgram)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
	}
}
