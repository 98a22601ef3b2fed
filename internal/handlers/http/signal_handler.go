package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/errors"
	"pairlink/pkg/logger"
	"pairlink/pkg/validation"

	"github.com/gin-gonic/gin"
)

// SignalHandler exposes the mailbox over HTTP. Peers without a live hub
// connection can still submit signals and drain their own pending mailbox.
type SignalHandler struct {
	mailbox ports.MailboxService
}

func NewSignalHandler(mailbox ports.MailboxService) *SignalHandler {
	return &SignalHandler{mailbox: mailbox}
}

func (h *SignalHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/signals", h.SubmitSignal)
		api.GET("/signals", h.DrainSignals)
		api.GET("/signals/pending", h.CountPending)
	}
}

type submitSignalRequest struct {
	SessionID   string          `json:"sessionId" binding:"required,max=256"`
	SenderID    string          `json:"senderId" binding:"required,max=100"`
	RecipientID string          `json:"recipientId" binding:"required,max=100"`
	SignalType  string          `json:"signalType" binding:"required"`
	Payload     json.RawMessage `json:"payload"`
}

// SubmitSignal stores a negotiation signal for later pickup by the recipient
func (h *SignalHandler) SubmitSignal(c *gin.Context) {
	var req submitSignalRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewValidationError("invalid request format"))
		return
	}

	if err := validation.ValidateSignalType(req.SignalType); err != nil {
		c.Error(errors.NewValidationError(err.Error()))
		return
	}

	signal := &domain.Signal{
		SessionID:   domain.SessionID(strings.TrimSpace(req.SessionID)),
		SenderID:    domain.PeerID(strings.TrimSpace(req.SenderID)),
		RecipientID: domain.PeerID(strings.TrimSpace(req.RecipientID)),
		Type:        domain.SignalType(req.SignalType),
		Payload:     req.Payload,
	}

	c.Request = c.Request.WithContext(logger.WithPeerID(c.Request.Context(), string(signal.SenderID)))
	stored, err := h.mailbox.Submit(c.Request.Context(), signal)
	if err != nil {
		if appErr := errors.GetAppError(err); appErr != nil {
			c.Error(appErr)
			return
		}
		c.Error(errors.NewDeliveryUnavailableError("failed to store signal"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":        stored.ID,
		"createdAt": stored.CreatedAt,
	})
}

// DrainSignals consumes the caller's pending signals. Each signal is returned
// at most once across all drain paths, so repeated polls are safe.
func (h *SignalHandler) DrainSignals(c *gin.Context) {
	recipient := strings.TrimSpace(c.Query("peerId"))
	if err := validation.ValidatePeerID(recipient); err != nil {
		c.Error(errors.NewValidationError(err.Error()))
		return
	}
	session := domain.SessionID(strings.TrimSpace(c.Query("sessionId")))

	c.Request = c.Request.WithContext(logger.WithPeerID(c.Request.Context(), recipient))
	signals, err := h.mailbox.DrainPending(c.Request.Context(), domain.PeerID(recipient), session)
	if err != nil {
		c.Error(errors.NewDeliveryUnavailableError("failed to drain signals"))
		return
	}

	if signals == nil {
		signals = []*domain.Signal{}
	}
	c.JSON(http.StatusOK, gin.H{
		"signals": signals,
		"count":   len(signals),
	})
}

// CountPending reports mailbox depth without consuming anything
func (h *SignalHandler) CountPending(c *gin.Context) {
	recipient := strings.TrimSpace(c.Query("peerId"))
	if err := validation.ValidatePeerID(recipient); err != nil {
		c.Error(errors.NewValidationError(err.Error()))
		return
	}

	count, err := h.mailbox.CountPending(c.Request.Context(), domain.PeerID(recipient))
	if err != nil {
		c.Error(errors.NewDeliveryUnavailableError("failed to count pending signals"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"pending": count})
}
