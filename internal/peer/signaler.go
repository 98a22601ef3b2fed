package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/infrastructure/hub"

	"go.uber.org/zap"
)

// FallbackSignaler relays signals live through the hub connection and falls
// back to the HTTP mailbox when the hub transport is down. Either path gives
// the signal at-least-once delivery; the receiving negotiator deduplicates.
type FallbackSignaler struct {
	client     *HubClient
	mailboxURL string
	http       *http.Client
	logger     *zap.SugaredLogger
}

func NewFallbackSignaler(client *HubClient, mailboxURL string, logger *zap.SugaredLogger) *FallbackSignaler {
	return &FallbackSignaler{
		client:     client,
		mailboxURL: mailboxURL,
		http:       &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (s *FallbackSignaler) SendSignal(ctx context.Context, signal *domain.Signal) error {
	err := s.client.SendSignal(hub.SignalPayload{
		SessionID:   signal.SessionID,
		SenderID:    signal.SenderID,
		RecipientID: signal.RecipientID,
		SignalType:  signal.Type,
		Payload:     signal.Payload,
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrTransportLost) {
		return err
	}

	s.logger.Debugw("hub transport down, submitting signal to mailbox",
		"session_id", signal.SessionID,
		"signal_type", signal.Type,
	)
	return s.submitHTTP(ctx, signal)
}

func (s *FallbackSignaler) submitHTTP(ctx context.Context, signal *domain.Signal) error {
	body, err := json.Marshal(map[string]interface{}{
		"sessionId":   signal.SessionID,
		"senderId":    signal.SenderID,
		"recipientId": signal.RecipientID,
		"signalType":  signal.Type,
		"payload":     signal.Payload,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.mailboxURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("mailbox rejected signal with status %d", resp.StatusCode)
	}
	return nil
}
