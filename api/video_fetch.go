package api

import (
	"bitwise74/clip-ingest/db"
	"bitwise74/clip-ingest/model"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type videoURI struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type videoResponse struct {
	*model.Video
	URL string `json:"url"`
}

// bindVideo loads the record named by the :id param and writes the error
// response itself when that's not possible
func (a *API) bindVideo(c *gin.Context) (*model.Video, bool) {
	requestID := c.MustGet("requestID").(string)

	var uri videoURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid video ID",
			"requestID": requestID,
		})
		return nil, false
	}

	video, err := a.Videos.Get(c.Request.Context(), uri.ID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":     "Video not found",
				"requestID": requestID,
			})
			return nil, false
		}

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to fetch video from db", zap.String("id", uri.ID), zap.Error(err))
		return nil, false
	}

	return video, true
}

func (a *API) VideoFetch(c *gin.Context) {
	video, ok := a.bindVideo(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, videoResponse{
		Video: video,
		URL:   "/api/videos/" + video.ID + "/stream",
	})
}
