package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"vidserve/config"
	"vidserve/store"
	"vidserve/task"
	"vidserve/upload"
)

type Handler struct {
	cfg      *config.Config
	registry *upload.Registry
	videos   *store.VideoStore
	manager  *task.Manager
}

func NewHandler(cfg *config.Config, registry *upload.Registry, videos *store.VideoStore, manager *task.Manager) *Handler {
	return &Handler{cfg: cfg, registry: registry, videos: videos, manager: manager}
}

type openSessionRequest struct {
	SessionID   string `json:"sessionId" binding:"required"`
	Filename    string `json:"filename" binding:"required"`
	TotalSize   int64  `json:"totalSize" binding:"required"`
	TotalChunks int    `json:"totalChunks" binding:"required"`
}

// OpenSession handles POST /upload/session.
func (h *Handler) OpenSession(c *gin.Context) {
	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := h.registry.OpenSession(req.SessionID, req.Filename, req.TotalSize, req.TotalChunks); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"sessionId": req.SessionID,
		"chunkSize": h.cfg.ChunkSize,
	})
}

// SubmitChunk handles POST /upload/session/:id/chunk. The chunk bytes
// arrive as the multipart file field "chunk" with its index in the form
// field "chunkIndex".
func (h *Handler) SubmitChunk(c *gin.Context) {
	sessionID := c.Param("id")

	index, err := strconv.Atoi(c.PostForm("chunkIndex"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chunkIndex must be an integer"})
		return
	}
	fileHeader, err := c.FormFile("chunk")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing chunk file field"})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer f.Close()

	received, total, err := h.registry.SubmitChunk(sessionID, index, f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":      sessionID,
		"chunkIndex":     index,
		"uploadedChunks": received,
		"totalChunks":    total,
	})
}

type completeRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Complete handles POST /upload/session/:id/complete.
func (h *Handler) Complete(c *gin.Context) {
	sessionID := c.Param("id")

	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	videoID, err := h.registry.Complete(sessionID, req.Title, req.Description)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"videoId": videoID,
		"status":  store.StatusProcessing,
	})
}

// ResumeStatus handles GET /upload/session/:id.
func (h *Handler) ResumeStatus(c *gin.Context) {
	sessionID := c.Param("id")

	received, total, filename, err := h.registry.ResumeStatus(sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":      sessionID,
		"filename":       filename,
		"totalChunks":    total,
		"uploadedChunks": received,
	})
}

// ReclaimSessions handles POST /upload/sessions/reclaim.
func (h *Handler) ReclaimSessions(c *gin.Context) {
	reclaimed, err := h.registry.ReclaimStale(h.cfg.SessionTTL)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reclaimed": reclaimed})
}

// VideoStatus handles GET /video/:id/status.
func (h *Handler) VideoStatus(c *gin.Context) {
	video, ok := h.videoFromParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.videoView(video))
}

// CountView handles POST /video/:id/view.
func (h *Handler) CountView(c *gin.Context) {
	video, ok := h.videoFromParam(c)
	if !ok {
		return
	}
	views, err := h.videos.IncrementViews(video.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"videoId": video.ID, "views": views})
}

// Reprocess handles POST /video/:id/reprocess. Records currently being
// processed are rejected; processed and errored records re-enter the
// queue with their artifacts intact.
func (h *Handler) Reprocess(c *gin.Context) {
	video, ok := h.videoFromParam(c)
	if !ok {
		return
	}
	if video.Status == store.StatusProcessing {
		c.JSON(http.StatusConflict, gin.H{"error": "video is already being processed"})
		return
	}
	if err := h.manager.EnqueueProcess(video.ID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"videoId": video.ID, "status": store.StatusProcessing})
}

// ListVideos handles GET /videos, returning only records that finished
// processing.
func (h *Handler) ListVideos(c *gin.Context) {
	videos, err := h.videos.ListByStatus(store.StatusProcessed)
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(videos))
	for i := range videos {
		out = append(out, h.videoView(&videos[i]))
	}
	c.JSON(http.StatusOK, gin.H{"videos": out, "count": len(out)})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) videoFromParam(c *gin.Context) (*store.Video, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "video id must be an integer"})
		return nil, false
	}
	video, err := h.videos.Get(uint(id))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return video, true
}

// videoView is the HTTP representation of one record, with derived
// fields the clients render directly.
func (h *Handler) videoView(v *store.Video) gin.H {
	view := gin.H{
		"videoId":          v.ID,
		"title":            v.Title,
		"description":      v.Description,
		"originalFilename": v.OriginalFilename,
		"originalSize":     v.OriginalSize,
		"status":           v.Status,
		"views":            v.Views,
		"uploadedAt":       v.UploadedAt,
	}
	if v.Error != "" {
		view["error"] = v.Error
	}
	if v.ProcessedAt != nil {
		view["processedAt"] = v.ProcessedAt
	}
	// Artifact and probe fields appear only once a run has finished; a
	// record mid-run reports nothing derived from its partial outputs.
	if v.Status == store.StatusProcessing {
		return view
	}
	view["artifacts"] = v.Artifacts
	if v.Duration > 0 {
		view["duration"] = v.Duration
		view["durationFormatted"] = formatDuration(v.Duration)
	}
	if r := v.Resolution(); r != "" {
		view["resolution"] = r
	}
	if v.Codec != "" {
		view["codec"] = v.Codec
	}
	if v.Format != "" {
		view["format"] = v.Format
	}
	if v.FPS > 0 {
		view["fps"] = v.FPS
	}
	if p, ok := v.Artifacts[store.ArtifactCompressed]; ok {
		view["videoUrl"] = h.cfg.BaseURL + "/static/videos/" + filepath.Base(p)
	}
	if p, ok := v.Artifacts[store.ArtifactThumbnail+"_0"]; ok {
		view["thumbnailUrl"] = h.cfg.BaseURL + "/static/thumbnails/" + filepath.Base(p)
	}
	if _, ok := v.Artifacts[store.ArtifactPackage]; ok {
		view["streamUrl"] = fmt.Sprintf("%s/static/packages/%d/stream.m3u8", h.cfg.BaseURL, v.ID)
	}
	return view
}

// formatDuration renders whole seconds as h:mm:ss.
func formatDuration(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

// respondError maps domain errors onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	var incomplete *upload.IncompleteUploadError
	switch {
	case errors.As(err, &incomplete):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":         "upload incomplete",
			"missingChunks": incomplete.Missing,
		})
	case errors.Is(err, upload.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, upload.ErrSessionExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, upload.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, task.ErrQueueClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
