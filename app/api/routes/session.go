package routes

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/deskhub/pkg/constant"
	"github.com/deskhub/pkg/domains/session"
	"github.com/deskhub/pkg/dtos"
	"github.com/deskhub/pkg/middleware"
	"github.com/deskhub/pkg/state"
	"github.com/gin-gonic/gin"
)

func SessionRoutes(r *gin.RouterGroup, s session.Service) {
	authGroup := r.Group("", middleware.CheckAuth())
	{
		authGroup.POST("/:channelId/start", startSession(s))
		authGroup.POST("/:channelId/stop", stopSession(s))
		authGroup.GET("/:channelId", getSnapshot(s))
	}
}

func channelParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("channelId"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(400, gin.H{"error": constant.INVALID_CHANNEL_ID})
		return 0, false
	}
	return uint(id), true
}

func sessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrChannelNotFound):
		c.JSON(404, gin.H{"error": fmt.Sprintf(constant.CANT_FIND, "Channel")})
	case errors.Is(err, session.ErrShutdown):
		c.JSON(503, gin.H{"error": err.Error()})
	default:
		c.JSON(500, gin.H{"error": err.Error()})
	}
}

func startSession(s session.Service) func(c *gin.Context) {
	return func(c *gin.Context) {
		channelID, ok := channelParam(c)
		if !ok {
			return
		}

		var req dtos.StartSessionDTO
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(400, gin.H{"error": constant.INVALID_REQUEST})
				return
			}
		}

		if err := s.StartOrRefresh(c, state.CurrentTenant(c), channelID, req.ForceNewPairing); err != nil {
			sessionError(c, err)
			return
		}

		c.JSON(202, gin.H{
			"message": constant.SESSION_STARTED,
		})
	}
}

func stopSession(s session.Service) func(c *gin.Context) {
	return func(c *gin.Context) {
		channelID, ok := channelParam(c)
		if !ok {
			return
		}

		if err := s.StopSession(c, state.CurrentTenant(c), channelID); err != nil {
			sessionError(c, err)
			return
		}

		c.JSON(200, gin.H{
			"message": constant.SESSION_STOPPED,
		})
	}
}

func getSnapshot(s session.Service) func(c *gin.Context) {
	return func(c *gin.Context) {
		channelID, ok := channelParam(c)
		if !ok {
			return
		}

		snap, err := s.GetSnapshot(c, state.CurrentTenant(c), channelID)
		if err != nil {
			sessionError(c, err)
			return
		}
		if snap == nil {
			c.JSON(404, gin.H{"error": constant.SNAPSHOT_NOTFOUND})
			return
		}

		c.JSON(200, gin.H{
			"data": dtos.SessionSnapshotDTO{
				ChannelID:       snap.ChannelID,
				Status:          snap.Status,
				QRCode:          snap.QRCode,
				RetryCount:      snap.RetryCount,
				RestartAttempts: snap.RestartAttempts,
				LastCode:        snap.LastDisconnectCode,
				LastReason:      snap.LastDisconnectMessage,
				UpdatedAt:       snap.UpdatedAt,
			},
		})
	}
}
