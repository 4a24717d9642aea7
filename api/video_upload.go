package api

import (
	"bitwise74/clip-ingest/service"
	"bitwise74/clip-ingest/validators"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// VideoUpload accepts a multipart form with exactly one "file" field, stores
// the payload and registers a video record for it
func (a *API) VideoUpload(c *gin.Context) {
	requestID := c.MustGet("requestID").(string)

	if c.ContentType() != "multipart/form-data" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request",
			"requestID": requestID,
		})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":     (&validators.ValidationError{Reason: validators.TooLarge, Limit: a.policy.MaxSize}).Error(),
				"requestID": requestID,
			})
			return
		}

		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid request",
			"requestID": requestID,
		})

		zap.L().Debug("Failed to parse multipart form", zap.String("requestID", requestID), zap.Error(err))
		return
	}
	defer form.RemoveAll()

	files := form.File["file"]
	if len(files) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "No file uploaded",
			"requestID": requestID,
		})
		return
	}

	if len(files) > 1 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "Only one file can be uploaded at a time",
			"requestID": requestID,
		})
		return
	}

	fh := files[0]

	f, err := validators.FileValidator(fh, a.policy, a.Config.Upload.SniffContent)
	if err != nil {
		a.uploadError(c, requestID, err)
		return
	}
	defer f.Close()

	video, err := a.Ingestor.Ingest(c.Request.Context(), service.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		a.uploadError(c, requestID, err)
		return
	}

	zap.L().Info("Video uploaded",
		zap.String("requestID", requestID),
		zap.String("video_id", video.ID),
		zap.Int64("size", video.Size))

	c.JSON(http.StatusOK, gin.H{
		"videoId": video.ID,
	})
}

// uploadError maps validation and ingestion errors to a response. Only
// client side defects get a specific message, server side ones are logged
// and answered with a generic one
func (a *API) uploadError(c *gin.Context, requestID string, err error) {
	var verr *validators.ValidationError

	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     verr.Error(),
			"reason":    verr.Reason,
			"requestID": requestID,
		})
	case errors.Is(err, validators.ErrFileNameTooLong),
		errors.Is(err, validators.ErrNoFile),
		errors.Is(err, service.ErrMissingPayload):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "Failed to upload video",
			"requestID": requestID,
		})

		zap.L().Error("Failed to upload video", zap.String("requestID", requestID), zap.Error(err))
	}
}
