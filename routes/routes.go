package routes

import (
	"github.com/gin-gonic/gin"

	"market_etl_backend/controllers"
)

// Controllers are the handlers mounted by SetupRoutes
type Controllers struct {
	Queue       *controllers.QueueController
	Instruments *controllers.InstrumentController
	Health      *controllers.HealthController
}

// SetupRoutes sets up all routes. adminGuard protects the queue operations.
func SetupRoutes(router *gin.Engine, ctrl Controllers, adminGuard gin.HandlerFunc) {
	router.HandleMethodNotAllowed = true
	router.NoMethod(controllers.MethodNotAllowed)
	router.NoRoute(controllers.NotFound)

	// Probes stay open
	router.GET("/health", ctrl.Health.Health)
	router.GET("/ready", ctrl.Health.Ready)

	api := router.Group("/api/v1")
	{
		// Queue operations
		q := api.Group("/queue", adminGuard)
		{
			q.POST("/start", ctrl.Queue.Start)
			q.POST("/process-batch", ctrl.Queue.ProcessBatch)
			q.POST("/stop", ctrl.Queue.Stop)
			q.GET("/status", ctrl.Queue.Status)
			q.GET("/runs", ctrl.Queue.Runs)
			q.GET("/ws", ctrl.Queue.Stream)
		}

		// Instrument routes
		instruments := api.Group("/instruments")
		{
			instruments.GET("", ctrl.Instruments.GetInstruments)
			instruments.GET("/:symbol", ctrl.Instruments.GetInstrument)
		}

		// Market routes
		market := api.Group("/market")
		{
			market.GET("/top-gainers", ctrl.Instruments.GetTopGainers)
			market.GET("/top-losers", ctrl.Instruments.GetTopLosers)
			market.GET("/most-active", ctrl.Instruments.GetMostActive)
		}
	}
}
