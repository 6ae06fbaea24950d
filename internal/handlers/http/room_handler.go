package http

import (
	"net/http"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"
	apperrors "syncroom/pkg/errors"

	"github.com/gin-gonic/gin"
)

// RoomHandler exposes the out-of-band lookup API. All room mutation happens
// over the coordination channel; this surface is read-only.
type RoomHandler struct {
	roomService ports.RoomService
}

func NewRoomHandler(roomService ports.RoomService) *RoomHandler {
	return &RoomHandler{roomService: roomService}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/rooms/:code", h.GetRoom)
		api.GET("/stats", h.GetStats)
	}
	router.GET("/health", h.Health)
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	code := domain.RoomCode(c.Param("code"))

	info, err := h.roomService.RoomInfo(c.Request.Context(), code)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room": info,
	})
}

func (h *RoomHandler) GetStats(c *gin.Context) {
	stats, err := h.roomService.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats": stats,
	})
}

func (h *RoomHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// writeError maps application errors to their HTTP form.
func writeError(c *gin.Context, err error) {
	appErr := apperrors.FromDomain(err)
	c.JSON(appErr.HTTPStatus, gin.H{
		"error": gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		},
	})
}
