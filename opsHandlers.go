package main

import (
	"net/http"

	"bitbucket.org/mmdatafocus/drum_backend/models"
	"bitbucket.org/mmdatafocus/drum_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type outboxReplayRequest struct {
	// DrumId limits the replay to one drum; zero replays every failed or dead row.
	DrumId int `json:"drum_id" validate:"gte=0"`
}

func (a *app) outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				invalidRequest(c, err)
				return
			}
		}
		if err := utils.ValidateStruct(&req); err != nil {
			invalidRequest(c, err)
			return
		}

		ctx := c.Request.Context()
		replayed, err := models.ReplayOutbox(ctx, req.DrumId)
		if err != nil {
			internalError(c, err)
			return
		}

		username, _ := utils.GetUsernameFromContext(ctx)
		a.logger.WithFields(logrus.Fields{
			"module":   "Ops",
			"username": username,
			"drum_id":  req.DrumId,
			"replayed": replayed,
		}).Info("outbox replay requested")

		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
			"drum_id":        req.DrumId,
			"replayed":       replayed,
			"publish_status": models.OutboxPublishStatusPending,
		}})
	}
}

func (a *app) outboxStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := models.OutboxStatusCounts(c.Request.Context())
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": counts})
	}
}
