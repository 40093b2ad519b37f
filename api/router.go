package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vidserve/config"
)

// NewRouter wires the HTTP surface. Derived artifacts are served
// statically straight out of the upload tree.
func NewRouter(cfg *config.Config, h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(RequestLogger(), gin.Recovery())
	r.MaxMultipartMemory = cfg.ChunkSize

	up := r.Group("/upload")
	{
		up.POST("/session", h.OpenSession)
		up.POST("/session/:id/chunk", h.SubmitChunk)
		up.POST("/session/:id/complete", h.Complete)
		up.GET("/session/:id", h.ResumeStatus)
		up.POST("/sessions/reclaim", h.ReclaimSessions)
	}

	vid := r.Group("/video")
	{
		vid.GET("/:id/status", h.VideoStatus)
		vid.POST("/:id/view", h.CountView)
		vid.POST("/:id/reprocess", h.Reprocess)
	}
	r.GET("/videos", h.ListVideos)

	r.Static("/static/videos", cfg.VideosDir())
	r.Static("/static/thumbnails", cfg.ThumbnailsDir())
	r.Static("/static/packages", cfg.PackagesDir())

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
