package domain

import "errors"

var (
	ErrInvalidHandshake     = errors.New("invalid handshake: empty peer identity")
	ErrMalformedEnvelope    = errors.New("malformed envelope")
	ErrUnknownEnvelopeKind  = errors.New("unknown envelope kind")
	ErrSignalNotFound       = errors.New("signal not found")
	ErrPeerNotConnected     = errors.New("peer not connected")
	ErrDeliveryUnavailable  = errors.New("direct channel not open")
	ErrTransportLost        = errors.New("hub connection lost")
	ErrNegotiationFailure   = errors.New("negotiation failed")
	ErrConversationDisabled = errors.New("conversation disabled")
)
