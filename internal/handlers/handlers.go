package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/posture-check/internal/auth"
	"github.com/example/posture-check/internal/poseestimator"
	"github.com/example/posture-check/internal/session"
	"github.com/example/posture-check/internal/usecase"
)

// MaxUploadSize is the largest frame image accepted, in bytes.
const MaxUploadSize = 5 << 20

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
}

type startSessionRequest struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	CameraError string `json:"camera_error"`
}

type landmarksRequest struct {
	Landmarks   []poseestimator.Landmark `json:"landmarks"`
	Width       int                      `json:"width" binding:"gte=0"`
	Height      int                      `json:"height" binding:"gte=0"`
	TimestampMs int64                    `json:"timestamp_ms"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Every route but
// /health runs behind the given middleware.
func RegisterRoutes(router *gin.Engine, uc *usecase.MonitoringUseCase, middleware ...gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/", middleware...)

	api.POST("/sessions", func(c *gin.Context) {
		var req startSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session request"})
			return
		}

		status, err := uc.StartSession(c.Request.Context(), userID(c), usecase.StartRequest{
			Width:       req.Width,
			Height:      req.Height,
			CameraError: req.CameraError,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, status)
	})

	api.POST("/sessions/:id/frames", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+64<<10)

		file, err := c.FormFile("image")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		if !allowedImageTypes[strings.ToLower(file.Header.Get("Content-Type"))] {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "image must be png or jpeg"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}
		if !allowedImageTypes[http.DetectContentType(data)] {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "image must be png or jpeg"})
			return
		}

		outcome, err := uc.SubmitImage(c.Request.Context(), userID(c), c.Param("id"), data, capturedAt(c.PostForm("timestamp_ms")))
		if err != nil {
			writeError(c, err)
			return
		}
		writeOutcome(c, c.Param("id"), outcome)
	})

	api.POST("/sessions/:id/landmarks", func(c *gin.Context) {
		var req landmarksRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid landmarks payload"})
			return
		}

		outcome, err := uc.SubmitLandmarks(c.Request.Context(), userID(c), c.Param("id"), usecase.LandmarksRequest{
			Landmarks:  req.Landmarks,
			Width:      req.Width,
			Height:     req.Height,
			CapturedAt: unixMilli(req.TimestampMs),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		writeOutcome(c, c.Param("id"), outcome)
	})

	api.GET("/sessions/:id", func(c *gin.Context) {
		status, err := uc.GetStatus(c.Request.Context(), userID(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	})

	api.DELETE("/sessions/:id", func(c *gin.Context) {
		status, err := uc.StopSession(c.Request.Context(), userID(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	})

	api.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func userID(c *gin.Context) string {
	id, _ := auth.GetUserID(c.Request.Context())
	return id
}

func capturedAt(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return unixMilli(ms)
}

func unixMilli(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func writeOutcome(c *gin.Context, sessionID string, outcome *usecase.FrameOutcome) {
	if outcome.Skipped {
		c.JSON(http.StatusOK, gin.H{
			"session_id": sessionID,
			"skipped":    true,
			"reason":     outcome.Reason,
		})
		return
	}
	c.JSON(http.StatusOK, outcome.Report)
}

func writeError(c *gin.Context, err error) {
	var mediaErr *session.MediaError
	switch {
	case errors.As(err, &mediaErr):
		c.JSON(http.StatusFailedDependency, gin.H{"error": mediaErr.Error(), "notice": mediaErr.Notice()})
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, usecase.ErrPoseEstimation):
		c.JSON(http.StatusBadGateway, gin.H{"error": "pose estimation unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
