package v1

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes регистрирует все маршруты API v1
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.Use(RequestIDMiddleware(), LoggerMiddleware(h.logger), TimeoutMiddleware(h.cfg.RequestTimeout))

	// Открытые маршруты
	api.POST("/auth/register", h.register)
	api.POST("/auth/login", h.login)
	api.GET("/system/health", h.healthCheck)

	secured := api.Group("", JWTAuthMiddleware(h.authService, h.logger))

	secured.POST("/alerts", h.createAlert)

	incidents := secured.Group("/incidents")
	{
		incidents.GET("", h.listIncidents)
		incidents.GET("/stats", h.getStats)
		incidents.GET("/:id", h.getIncident)
		incidents.PATCH("/:id", h.updateIncident)
		incidents.POST("/:id/accept", h.transition("acceptIncident", acceptIncident))
		incidents.POST("/:id/dispatch", h.transition("dispatchIncident", dispatchIncident))
		incidents.POST("/:id/resolve", h.transition("resolveIncident", resolveIncident))
		incidents.POST("/:id/cancel", h.transition("cancelIncident", cancelIncident))
	}

	facilities := secured.Group("/facilities")
	{
		facilities.GET("", h.listFacilities)
		facilities.GET("/nearest", h.nearestFacilities)
		facilities.POST("", h.createFacility)
	}

	secured.GET("/profile", h.getProfile)
	secured.PUT("/profile", h.updateProfile)
}
