package router

import (
	"database/sql"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/claimflow/engine/handlers"
	"github.com/claimflow/engine/internal/config"
	"github.com/claimflow/engine/services"
)

func NewGinRouter(pg *sql.DB, redis *redis.Client) *gin.Engine {
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Collaborators
	items := services.NewPostgresWorkItemStore(pg)
	directory := services.NewPostgresWorkerDirectory(pg)
	audit := services.NewPostgresAuditSink(pg)
	alerts := services.NewPostgresAlertStore(pg)
	sink := services.NewWebhookAlertSink(config.App.AlertWebhookURL)

	// Engine services
	assignmentService := services.NewAssignmentService(items, directory, audit, config.App.Engine)
	rebalanceService := services.NewRebalanceService(items, directory, audit, alerts, sink, config.App.Engine)
	workloadService := services.NewWorkloadService(items, directory, alerts, sink, redis, config.App.Engine)
	workloadService.SetRebalancer(rebalanceService)

	// Handlers
	assignmentHandler := handlers.NewAssignmentHandler(assignmentService)
	workloadHandler := handlers.NewWorkloadHandler(workloadService, rebalanceService)

	api := r.Group("/api")
	{
		api.POST("/work-items/:id/assign", assignmentHandler.AssignSingle)
		api.POST("/work-items/:id/assign/manual", assignmentHandler.ManualAssign)
		api.POST("/work-items/:id/recall", assignmentHandler.Recall)
		api.POST("/assignments/batch", assignmentHandler.AssignBatch)

		api.GET("/teams/:id/workload", workloadHandler.ComputeWorkload)
		api.POST("/teams/:id/rebalance", workloadHandler.RebalanceTeam)
		api.POST("/overload/scan", workloadHandler.ScanOverload)
		api.GET("/alerts/overload", workloadHandler.ListOpenAlerts)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
