package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/services"
	"pairlink/internal/infrastructure/repositories/memory"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type hubFixture struct {
	hub     *Hub
	mailbox interface {
		Submit(ctx context.Context, signal *domain.Signal) (*domain.Signal, error)
		CountPending(ctx context.Context, recipient domain.PeerID) (int, error)
	}
	server *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()

	mailbox := services.NewMailboxService(memory.NewMemorySignalRepository(), 100, log)
	h := NewHub(mailbox, services.NewPresenceService(), memory.NewMemoryMessageStore(), nil, log)
	h.SetTimeouts(time.Second, 2*time.Second, 5*time.Second, time.Second)

	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(func() {
		h.Shutdown()
		server.Close()
	})

	return &hubFixture{hub: h, mailbox: mailbox, server: server}
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func (f *hubFixture) connect(t *testing.T, peer domain.PeerID) *websocket.Conn {
	t.Helper()
	ws := f.dial(t)
	require.NoError(t, ws.WriteJSON(Envelope{
		Type:    KindHello,
		Payload: mustJSON(t, HelloPayload{PeerID: peer}),
	}))

	ack := readEnvelope(t, ws)
	require.Equal(t, KindHelloAck, ack.Type)
	sync := readEnvelope(t, ws)
	require.Equal(t, KindPresenceSync, sync.Type)
	return ws
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func readEnvelope(t *testing.T, ws *websocket.Conn) *Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env Envelope
	require.NoError(t, ws.ReadJSON(&env))
	return &env
}

func TestHub_RejectsNonHelloFirstFrame(t *testing.T) {
	f := newHubFixture(t)
	ws := f.dial(t)

	require.NoError(t, ws.WriteJSON(Envelope{Type: KindPing}))

	env := readEnvelope(t, ws)
	assert.Equal(t, KindError, env.Type)
	assert.NotEmpty(t, env.Error)

	// Connection is closed after the rejection.
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}

func TestHub_RejectsEmptyPeerIdentity(t *testing.T) {
	f := newHubFixture(t)
	ws := f.dial(t)

	require.NoError(t, ws.WriteJSON(Envelope{
		Type:    KindHello,
		Payload: mustJSON(t, HelloPayload{PeerID: "  "}),
	}))

	env := readEnvelope(t, ws)
	assert.Equal(t, KindError, env.Type)
}

func TestHub_HandshakeOrdering(t *testing.T) {
	f := newHubFixture(t)
	ws := f.dial(t)

	require.NoError(t, ws.WriteJSON(Envelope{
		Type:    KindHello,
		Payload: mustJSON(t, HelloPayload{PeerID: "alice"}),
	}))

	// Ack first, carrying the peer's own identity.
	ack := readEnvelope(t, ws)
	require.Equal(t, KindHelloAck, ack.Type)
	var hello HelloPayload
	require.NoError(t, json.Unmarshal(ack.Payload, &hello))
	assert.Equal(t, domain.PeerID("alice"), hello.PeerID)

	// Snapshot second, already including the fresh peer.
	sync := readEnvelope(t, ws)
	require.Equal(t, KindPresenceSync, sync.Type)
	var snapshot []domain.PresenceRecord
	require.NoError(t, json.Unmarshal(sync.Payload, &snapshot))
	require.Len(t, snapshot, 1)
	assert.Equal(t, domain.PeerID("alice"), snapshot[0].PeerID)
	assert.Equal(t, domain.PresenceOnline, snapshot[0].Status)
}

func TestHub_PresenceUpdateReachesOthers(t *testing.T) {
	f := newHubFixture(t)

	alice := f.connect(t, "alice")
	_ = f.connect(t, "bob")

	// Alice sees bob come online; she does not see her own join echo.
	update := readEnvelope(t, alice)
	require.Equal(t, KindPresenceUpdate, update.Type)
	var record domain.PresenceRecord
	require.NoError(t, json.Unmarshal(update.Payload, &record))
	assert.Equal(t, domain.PeerID("bob"), record.PeerID)
	assert.Equal(t, domain.PresenceOnline, record.Status)
}

func TestHub_SignalStoredPushedAndAcked(t *testing.T) {
	f := newHubFixture(t)

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	_ = readEnvelope(t, alice) // bob's presence update

	require.NoError(t, alice.WriteJSON(Envelope{
		Type: KindSignal,
		Payload: mustJSON(t, SignalPayload{
			SessionID:   "s1",
			RecipientID: "bob",
			SignalType:  domain.SignalOffer,
			Payload:     json.RawMessage(`{"sdp":"v=0"}`),
		}),
	}))

	// Bob gets the live push.
	push := readEnvelope(t, bob)
	require.Equal(t, KindSignal, push.Type)
	var pushed domain.Signal
	require.NoError(t, json.Unmarshal(push.Payload, &pushed))
	assert.Equal(t, domain.PeerID("alice"), pushed.SenderID)
	assert.Equal(t, domain.SignalOffer, pushed.Type)
	assert.NotEmpty(t, pushed.ID)

	// Alice gets the ack with the stored identity.
	ack := readEnvelope(t, alice)
	require.Equal(t, KindSignalAck, ack.Type)
	var acked domain.Signal
	require.NoError(t, json.Unmarshal(ack.Payload, &acked))
	assert.Equal(t, pushed.ID, acked.ID)
}

func TestHub_OfflineRecipientDrainsOnHello(t *testing.T) {
	f := newHubFixture(t)

	_, err := f.mailbox.Submit(context.Background(), &domain.Signal{
		SessionID:   "s1",
		SenderID:    "alice",
		RecipientID: "bob",
		Type:        domain.SignalOffer,
		Payload:     json.RawMessage(`{"sdp":"v=0"}`),
	})
	require.NoError(t, err)

	bob := f.connect(t, "bob")

	env := readEnvelope(t, bob)
	require.Equal(t, KindSignal, env.Type)
	var drained domain.Signal
	require.NoError(t, json.Unmarshal(env.Payload, &drained))
	assert.Equal(t, domain.SignalOffer, drained.Type)

	// The drain consumed the signal.
	require.Eventually(t, func() bool {
		count, err := f.mailbox.CountPending(context.Background(), "bob")
		return err == nil && count == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_MalformedFrameAnswersErrorAndStaysOpen(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)))

	env := readEnvelope(t, alice)
	assert.Equal(t, KindError, env.Type)

	// Still serviceable afterwards.
	require.NoError(t, alice.WriteJSON(Envelope{Type: KindPing}))
	pong := readEnvelope(t, alice)
	assert.Equal(t, KindPong, pong.Type)
}

func TestHub_TypingRelayedToRecipientOnly(t *testing.T) {
	f := newHubFixture(t)

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	carol := f.connect(t, "carol")
	_ = readEnvelope(t, alice) // bob presence
	_ = readEnvelope(t, alice) // carol presence
	_ = readEnvelope(t, bob)   // carol presence

	require.NoError(t, alice.WriteJSON(Envelope{
		Type: KindTyping,
		Payload: mustJSON(t, TypingPayload{
			RecipientID: "bob",
			State:       domain.TypingStart,
		}),
	}))

	env := readEnvelope(t, bob)
	require.Equal(t, KindTyping, env.Type)
	var event domain.TypingEvent
	require.NoError(t, json.Unmarshal(env.Payload, &event))
	assert.Equal(t, domain.PeerID("alice"), event.SenderID)
	assert.Equal(t, domain.TypingStart, event.State)
	assert.Equal(t, domain.NewConversationID("alice", "bob"), event.ConversationID)

	// Carol never hears about it.
	require.NoError(t, carol.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var stray Envelope
	err := carol.ReadJSON(&stray)
	assert.Error(t, err)
}

func TestHub_MessageRelayFallback(t *testing.T) {
	f := newHubFixture(t)

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	_ = readEnvelope(t, alice)

	require.NoError(t, alice.WriteJSON(Envelope{
		Type: KindMessage,
		Payload: mustJSON(t, domain.ChatMessage{
			RecipientID: "bob",
			Content:     "hello over the relay",
		}),
	}))

	env := readEnvelope(t, bob)
	require.Equal(t, KindMessageNew, env.Type)
	var msg domain.ChatMessage
	require.NoError(t, json.Unmarshal(env.Payload, &msg))
	assert.Equal(t, domain.PeerID("alice"), msg.SenderID)
	assert.Equal(t, "hello over the relay", msg.Content)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.SentAt.IsZero())
}

func TestHub_MessageStatusRelayed(t *testing.T) {
	f := newHubFixture(t)

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	_ = readEnvelope(t, alice)

	require.NoError(t, bob.WriteJSON(Envelope{
		Type: KindMessageStatus,
		Payload: mustJSON(t, MessageStatusPayload{
			MessageID:   "m1",
			RecipientID: "alice",
			Status:      domain.StatusDelivered,
		}),
	}))

	env := readEnvelope(t, alice)
	require.Equal(t, KindMessageStatusUpdate, env.Type)
	var update domain.MessageStatusUpdate
	require.NoError(t, json.Unmarshal(env.Payload, &update))
	assert.Equal(t, domain.MessageID("m1"), update.MessageID)
	assert.Equal(t, domain.StatusDelivered, update.Status)
	assert.Equal(t, domain.PeerID("bob"), update.SenderID)
}

func TestHub_DisconnectBroadcastsOffline(t *testing.T) {
	f := newHubFixture(t)

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	_ = readEnvelope(t, alice)

	require.NoError(t, bob.Close())

	env := readEnvelope(t, alice)
	require.Equal(t, KindPresenceUpdate, env.Type)
	var record domain.PresenceRecord
	require.NoError(t, json.Unmarshal(env.Payload, &record))
	assert.Equal(t, domain.PeerID("bob"), record.PeerID)
	assert.Equal(t, domain.PresenceOffline, record.Status)
}

// rawServerConn upgrades a throwaway websocket and hands back the server side.
func rawServerConn(t *testing.T) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ws, err := upgrader.Upgrade(w, r, nil); err == nil {
			conns <- ws
		}
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return <-conns
}

func TestHub_FailedAckRevertsPresence(t *testing.T) {
	f := newHubFixture(t)

	// Register bob the way handshake does, then kill the socket so the ack
	// send fails.
	conn := NewConnection("bob", rawServerConn(t), 8, time.Second, time.Second)
	conn.Start()
	f.hub.register(conn)
	f.hub.presence.Set("bob", domain.PresenceOnline)
	conn.Close(websocket.CloseNormalClosure, "test")

	ack, err := newOutbound(KindHelloAck, HelloPayload{PeerID: conn.PeerID})
	require.NoError(t, err)
	require.Error(t, conn.Send(ack))
	f.hub.abortHandshake(conn)

	assert.False(t, f.hub.IsPeerConnected("bob"))

	// A fresh peer's snapshot must not carry the phantom online entry.
	ws := f.dial(t)
	require.NoError(t, ws.WriteJSON(Envelope{
		Type:    KindHello,
		Payload: mustJSON(t, HelloPayload{PeerID: "carol"}),
	}))
	ackEnv := readEnvelope(t, ws)
	require.Equal(t, KindHelloAck, ackEnv.Type)
	sync := readEnvelope(t, ws)
	require.Equal(t, KindPresenceSync, sync.Type)

	var records []domain.PresenceRecord
	require.NoError(t, json.Unmarshal(sync.Payload, &records))
	for _, record := range records {
		if record.PeerID == "bob" {
			assert.Equal(t, domain.PresenceOffline, record.Status)
		}
	}
}
