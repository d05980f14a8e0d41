package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"clipforge/config"
)

func SetupRouter(merger Merger, store JobStore, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))

	h := NewHandler(merger, store, logger)

	r.GET("/", h.handleRoot)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/merge", h.handleMerge)

		longform := v1.Group("/longform")
		{
			longform.POST("/render", h.handleRender)
			longform.GET("/status/:requestId", h.handleStatus)
			longform.GET("/result/:requestId", h.handleResult)
		}
	}
	return r
}
