package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/infrastructure/hub"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const eventChannel = "pairlink:events"

type eventType string

const (
	eventEnvelopePeer      eventType = "envelope.peer"
	eventEnvelopeBroadcast eventType = "envelope.broadcast"
)

// event is one relayed frame between hub instances.
type event struct {
	Type       eventType     `json:"type"`
	InstanceID string        `json:"instanceId"`
	Timestamp  time.Time     `json:"timestamp"`
	PeerID     domain.PeerID `json:"peerId,omitempty"`
	Envelope   *hub.Envelope `json:"envelope"`
}

// Bus relays envelopes between hub instances over Redis pub/sub so a peer
// connected to instance A still receives pushes originating on instance B.
// It implements hub.Relay on the publish side; Run drives the subscribe side
// into the local hub.
type Bus struct {
	client     *redis.Client
	registry   *PeerRegistry
	instanceID string
	logger     *zap.SugaredLogger
}

func NewBus(client *redis.Client, registry *PeerRegistry, instanceID string, logger *zap.SugaredLogger) *Bus {
	return &Bus{
		client:     client,
		registry:   registry,
		instanceID: instanceID,
		logger:     logger,
	}
}

// PublishToPeer relays a targeted envelope. Publishing is skipped when the
// registry shows the peer connected nowhere; the mailbox already covers
// offline recipients for signals, and everything else is lossy by contract.
func (b *Bus) PublishToPeer(ctx context.Context, peer domain.PeerID, env *hub.Envelope) error {
	online, err := b.registry.IsOnline(ctx, peer)
	if err != nil {
		return err
	}
	if !online {
		return nil
	}
	return b.publish(ctx, &event{
		Type:     eventEnvelopePeer,
		PeerID:   peer,
		Envelope: env,
	})
}

// PublishBroadcast relays a presence-style broadcast to every instance.
func (b *Bus) PublishBroadcast(ctx context.Context, env *hub.Envelope) error {
	return b.publish(ctx, &event{
		Type:     eventEnvelopeBroadcast,
		Envelope: env,
	})
}

// PeerConnected records this instance in the peer's registry entry.
func (b *Bus) PeerConnected(ctx context.Context, peer domain.PeerID) error {
	return b.registry.Register(ctx, peer, b.instanceID)
}

// PeerDisconnected drops this instance from the peer's registry entry.
func (b *Bus) PeerDisconnected(ctx context.Context, peer domain.PeerID) error {
	return b.registry.Unregister(ctx, peer, b.instanceID)
}

func (b *Bus) publish(ctx context.Context, ev *event) error {
	ev.InstanceID = b.instanceID
	ev.Timestamp = time.Now()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal cluster event: %w", err)
	}
	if err := b.client.Publish(ctx, eventChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish cluster event: %w", err)
	}
	return nil
}

// Run subscribes to the event channel and forwards relayed envelopes into
// the local hub until ctx is cancelled. Events from this instance are
// skipped to avoid double delivery.
func (b *Bus) Run(ctx context.Context, connectionHub *hub.Hub) error {
	pubsub := b.client.Subscribe(ctx, eventChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	b.logger.Infow("cluster bus subscribed", "instance_id", b.instanceID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warnw("dropping malformed cluster event", "error", err)
				continue
			}
			if ev.InstanceID == b.instanceID || ev.Envelope == nil {
				continue
			}

			switch ev.Type {
			case eventEnvelopePeer:
				connectionHub.DeliverLocal(ev.PeerID, ev.Envelope)
			case eventEnvelopeBroadcast:
				connectionHub.DeliverBroadcast(ev.Envelope)
			default:
				b.logger.Debugw("ignoring unknown cluster event", "type", ev.Type)
			}
		}
	}
}
