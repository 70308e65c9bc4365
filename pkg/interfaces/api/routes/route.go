package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/tensorgrid/deploy-backend/pkg/interfaces/api/handlers"
	"github.com/tensorgrid/deploy-backend/pkg/interfaces/api/servers"
)

func SetupRoutes(server *servers.Server) {
	apiV1 := server.Router.Group("/api/v1")
	setupV1Routes(apiV1, server)

	healthGroup := server.Router.Group("/health")
	setupHealthRoutes(healthGroup)
}

func setupV1Routes(router *gin.RouterGroup, server *servers.Server) {
	setupDeploymentRoutes(router.Group("/deployment"), server)
}

func setupHealthRoutes(router *gin.RouterGroup) {
	handler := handlers.NewHealthHandler()
	router.GET("", handler.GetHealth)
}

func setupDeploymentRoutes(router *gin.RouterGroup, server *servers.Server) {
	handler := handlers.NewDeploymentHandler(server.Orchestrator, server.Inventory)
	router.POST("/create", handler.CreateDeployment)
	router.GET("/status/:id", handler.GetStatus)
	router.GET("/deployments", handler.ListDeployments)
	router.POST("/start", handler.StartDeployment)
	router.POST("/stop", handler.StopDeployment)
	router.POST("/terminate", handler.TerminateDeployment)
	router.POST("/delete/:id", handler.DeleteDeployment)
	router.PATCH("/update/:id", handler.UpdateDeployment)
	router.GET("/logs/:id", handler.GetLogs)
	router.GET("/list/pool/:poolId/inventory", handler.GetPoolInventory)
}
