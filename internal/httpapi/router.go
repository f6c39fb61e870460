package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noetl/noetl/internal/httpapi/middleware"
)

// RouterConfig mirrors the teacher's nilable-handler-field RouterConfig:
// every route this process doesn't wire a handler for (e.g. a control-
// plane-only deployment that never accepts worker traffic) is simply
// absent from the mux rather than panicking on a nil pointer.
type RouterConfig struct {
	ExecutionHandler *ExecutionHandler
	EventHandler     *EventHandler
	WorkerHandler    *WorkerHandler
	JobHandler       *JobHandler

	AuthMiddleware *middleware.AuthMiddleware
	AllowOrigins   []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(middleware.AttachRequestContext())
	r.Use(middleware.CORS(cfg.AllowOrigins))

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	if cfg.ExecutionHandler != nil {
		r.POST("/executions", cfg.ExecutionHandler.Create)
		r.GET("/executions", cfg.ExecutionHandler.List)
		r.GET("/executions/:id/status", cfg.ExecutionHandler.Status)
		r.POST("/executions/:id/cancel", cfg.ExecutionHandler.Cancel)
	}

	if cfg.EventHandler != nil {
		events := r.Group("/events")
		if cfg.AuthMiddleware != nil {
			events.Use(cfg.AuthMiddleware.RequireAuth())
		}
		events.POST("", cfg.EventHandler.Append)
	}

	workers := r.Group("/workers")
	{
		if cfg.AuthMiddleware != nil {
			workers.Use(cfg.AuthMiddleware.RequireAuth())
		}
		if cfg.WorkerHandler != nil {
			workers.POST("/register", cfg.WorkerHandler.Register)
			workers.DELETE("/:name", cfg.WorkerHandler.Deregister)
			workers.POST("/:name/heartbeat", cfg.WorkerHandler.Heartbeat)
		}
	}

	jobs := r.Group("/jobs")
	{
		if cfg.AuthMiddleware != nil {
			jobs.Use(cfg.AuthMiddleware.RequireAuth())
		}
		if cfg.JobHandler != nil {
			jobs.GET("/lease", cfg.JobHandler.Lease)
			jobs.POST("/:key/ack", cfg.JobHandler.Ack)
			jobs.POST("/:key/nack", cfg.JobHandler.Nack)
			jobs.POST("/:key/extend", cfg.JobHandler.Extend)
		}
	}

	return r
}
