package api

import (
	"bitwise74/clip-ingest/service"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// VideoClips hands a stored video over to clip generation. The payload is
// checked first so the receiver only ever sees IDs it can resolve
func (a *API) VideoClips(c *gin.Context) {
	video, ok := a.bindVideo(c)
	if !ok {
		return
	}

	requestID := c.MustGet("requestID").(string)
	ctx := c.Request.Context()

	if _, err := a.Store.Stat(ctx, video.StorageKey); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Video payload unavailable for hand off", zap.String("id", video.ID), zap.Error(err))
		return
	}

	err := a.Dispatcher.Dispatch(ctx, video.ID)
	if err != nil {
		if errors.Is(err, service.ErrQueueFull) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":     "Job queue is full. Please wait a moment before trying again",
				"requestID": requestID,
			})

			zap.L().Warn("Clip job queue is full")
			return
		}

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to dispatch clip generation", zap.String("id", video.ID), zap.Error(err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"videoId": video.ID,
	})
}
