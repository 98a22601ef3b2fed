package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// ValidatePeerID validates a peer identity. Identity is caller-supplied and
// trusted at the transport boundary; validation rejects only unusable values.
func ValidatePeerID(peerID string) error {
	if strings.TrimSpace(peerID) == "" {
		return fmt.Errorf("peer ID is required")
	}
	if len(peerID) > 100 {
		return fmt.Errorf("peer ID is too long (max 100 characters)")
	}
	if !utf8.ValidString(peerID) {
		return fmt.Errorf("peer ID contains invalid characters")
	}
	return nil
}

// ValidateSessionID validates a negotiation session identifier.
func ValidateSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session ID is required")
	}
	if len(sessionID) > 250 {
		return fmt.Errorf("session ID is too long (max 250 characters)")
	}
	return nil
}

// ValidateSignalType validates the negotiation step name.
func ValidateSignalType(signalType string) error {
	switch signalType {
	case "offer", "answer", "candidate", "bye":
		return nil
	case "":
		return fmt.Errorf("signal type is required")
	}
	return fmt.Errorf("signal type must be one of offer, answer, candidate, bye")
}

// ValidateMessageContent validates chat message content.
func ValidateMessageContent(content string) error {
	if content == "" {
		return fmt.Errorf("message content is required")
	}
	if len(content) > 64*1024 {
		return fmt.Errorf("message content is too long (max 65536 bytes)")
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("message content contains invalid characters")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
