package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"texstream/internal/infrastructure/display"
	"texstream/internal/infrastructure/monitoring"
	apperrors "texstream/pkg/errors"

	"github.com/gin-gonic/gin"
)

// FrameSource is the display state the viewer serves.
type FrameSource interface {
	Encoded() ([]byte, uint64, error)
	Status() display.Status
}

// ReceiverStats exposes receiver counters alongside the display status.
type ReceiverStats interface {
	Count() int
	Stats() (displayed, rejected uint64)
	Active() bool
}

type HealthReporter interface {
	CheckAll(ctx context.Context) monitoring.HealthStatus
}

type ViewerHandler struct {
	frames   FrameSource
	receiver ReceiverStats
	health   HealthReporter
}

func NewViewerHandler(frames FrameSource, receiver ReceiverStats, health HealthReporter) *ViewerHandler {
	return &ViewerHandler{
		frames:   frames,
		receiver: receiver,
		health:   health,
	}
}

func (h *ViewerHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/frame.jpg", h.GetFrame)
	router.GET("/stats", h.GetStats)
	router.GET("/health", h.GetHealth)
}

// GetFrame serves the latest displayed frame as JPEG. The frame sequence
// number doubles as the ETag.
func (h *ViewerHandler) GetFrame(c *gin.Context) {
	data, seq, err := h.frames.Encoded()
	if err != nil {
		if errors.Is(err, display.ErrNoFrame) {
			_ = c.Error(apperrors.NewServiceUnavailableError("no frame received yet"))
			return
		}
		_ = c.Error(apperrors.NewInternalError("failed to encode frame"))
		return
	}

	etag := `"` + strconv.FormatUint(seq, 10) + `"`
	c.Header("Cache-Control", "no-store")
	c.Header("ETag", etag)
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *ViewerHandler) GetStats(c *gin.Context) {
	body := gin.H{
		"display": h.frames.Status(),
	}
	if h.receiver != nil {
		displayed, rejected := h.receiver.Stats()
		body["receiver"] = gin.H{
			"active":    h.receiver.Active(),
			"messages":  h.receiver.Count(),
			"displayed": displayed,
			"rejected":  rejected,
		}
	}
	c.JSON(http.StatusOK, body)
}

func (h *ViewerHandler) GetHealth(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
