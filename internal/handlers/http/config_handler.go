package http

import (
	"net/http"
	"strings"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/errors"
	"pairlink/pkg/validation"

	"github.com/gin-gonic/gin"
)

type ConfigHandler struct {
	provider ports.ICEConfigProvider
}

func NewConfigHandler(provider ports.ICEConfigProvider) *ConfigHandler {
	return &ConfigHandler{provider: provider}
}

func (h *ConfigHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/webrtc/config", h.GetConfig)
	}
}

// GetConfig returns the ICE server bundle the requesting peer should use,
// with a ttl hint so clients can cache it
func (h *ConfigHandler) GetConfig(c *gin.Context) {
	peerID := strings.TrimSpace(c.Query("peerId"))
	if err := validation.ValidatePeerID(peerID); err != nil {
		c.Error(errors.NewValidationError(err.Error()))
		return
	}

	cfg, err := h.provider.Config(c.Request.Context(), domain.PeerID(peerID))
	if err != nil {
		c.Error(errors.NewInternalError("failed to build ICE configuration"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"iceServers": cfg.Servers,
		"ttlMs":      cfg.TTL.Milliseconds(),
	})
}
