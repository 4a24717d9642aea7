package api

import (
	"bitwise74/clip-ingest/storage"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const presignTTL = 15 * time.Minute

// VideoServe serves a video payload. Buckets get a redirect to a short lived
// presigned URL, local files are streamed with range support
func (a *API) VideoServe(c *gin.Context) {
	video, ok := a.bindVideo(c)
	if !ok {
		return
	}

	requestID := c.MustGet("requestID").(string)
	ctx := c.Request.Context()

	if p, ok := a.Store.(storage.Presigner); ok {
		url, err := p.PresignGet(ctx, video.StorageKey, presignTTL)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":     "Internal server error",
				"requestID": requestID,
			})

			zap.L().Error("Failed to presign video", zap.String("id", video.ID), zap.Error(err))
			return
		}

		c.Redirect(http.StatusFound, url)
		return
	}

	obj, err := a.Store.Stat(ctx, video.StorageKey)
	if err == nil {
		var rc io.ReadCloser
		rc, err = a.Store.Open(ctx, video.StorageKey)
		if err == nil {
			defer rc.Close()

			c.Header("Content-Type", video.ContentType)

			if rs, ok := rc.(io.ReadSeeker); ok {
				http.ServeContent(c.Writer, c.Request, "", obj.ModTime, rs)
				return
			}

			c.DataFromReader(http.StatusOK, obj.Size, video.ContentType, rc, nil)
			return
		}
	}

	if errors.Is(err, storage.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"error":     "Video not found",
			"requestID": requestID,
		})

		zap.L().Error("Video record without payload", zap.String("id", video.ID))
		return
	}

	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":     "Internal server error",
		"requestID": requestID,
	})

	zap.L().Error("Failed to open video", zap.String("id", video.ID), zap.Error(err))
}
