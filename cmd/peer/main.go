package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/infrastructure/hub"
	"pairlink/internal/peer"
	"pairlink/pkg/logger"
	"pairlink/pkg/utils"
)

// Terminal chat client: connects to the hub, negotiates a direct channel to
// one remote peer, and relays through the hub while the channel is down.
func main() {
	var (
		hubURL   = flag.String("hub", "ws://localhost:8080/ws", "hub websocket URL")
		apiURL   = flag.String("api", "http://localhost:8080", "hub HTTP base URL")
		localID  = flag.String("peer", "", "local peer id")
		remoteID = flag.String("to", "", "remote peer id")
		level    = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	if *remoteID == "" {
		fmt.Fprintln(os.Stderr, "usage: peer -to <id> [-peer <id>] [-hub ws://...] [-api http://...]")
		os.Exit(2)
	}
	if *localID == "" {
		*localID = utils.GeneratePeerID()
		fmt.Printf("-- using generated peer id %s\n", *localID)
	}

	zapLogger := logger.New(*level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	local := domain.PeerID(*localID)
	remote := domain.PeerID(*remoteID)
	conversation := domain.NewConversationID(local, remote)

	var negotiator *peer.Negotiator

	var client *peer.HubClient
	reconciler := peer.NewReconciler(local, peer.SystemClock(), func(update domain.MessageStatusUpdate) {
		if negotiator != nil && negotiator.ChannelOpen() {
			if err := negotiator.SendStatus(update); err == nil {
				return
			}
		}
		_ = client.SendMessageStatus(hub.MessageStatusPayload{
			MessageID:      update.MessageID,
			ConversationID: update.ConversationID,
			RecipientID:    update.RecipientID,
			Status:         update.Status,
			Timestamp:      &update.Timestamp,
		})
	})

	indicator := peer.NewTypingIndicator(peer.SystemClock(), func(p domain.PeerID, typing bool) {
		if typing {
			fmt.Printf("-- %s is typing...\n", p)
		}
	})

	channelHandlers := peer.ChannelHandlers{
		OnMessage: func(msg domain.ChatMessage) {
			reconciler.ObserveArrival(&msg)
			fmt.Printf("[%s] %s\n", msg.SenderID, msg.Content)
			reconciler.MarkRead(msg.ID)
		},
		OnTyping: func(event domain.TypingEvent) {
			indicator.Observe(event)
		},
		OnStatus: func(update domain.MessageStatusUpdate) {
			view := reconciler.ApplyStatus(update)
			if view.Read {
				fmt.Printf("-- message %s read\n", update.MessageID)
			}
		},
	}

	handlers := peer.Handlers{
		OnConnected: func() {
			fmt.Println("-- connected to hub")
		},
		OnSignal: func(signal *domain.Signal) {
			if negotiator != nil {
				if err := negotiator.HandleSignal(context.Background(), signal); err != nil {
					log.Warnw("failed to apply signal", "error", err)
				}
			}
		},
		OnPresenceUpdate: func(record domain.PresenceRecord) {
			if record.PeerID == remote {
				fmt.Printf("-- %s is %s\n", record.PeerID, record.Status)
			}
		},
		OnTyping: func(event domain.TypingEvent) {
			indicator.Observe(event)
		},
		OnMessageNew: func(msg domain.ChatMessage) {
			if msg.SenderID == remote {
				reconciler.ObserveArrival(&msg)
				fmt.Printf("[%s] %s\n", msg.SenderID, msg.Content)
				reconciler.MarkRead(msg.ID)
			}
		},
		OnMessageStatus: func(update domain.MessageStatusUpdate) {
			reconciler.ApplyStatus(update)
		},
		OnDisconnected: func(err error) {
			fmt.Println("-- hub connection lost, reconnecting")
		},
	}

	client = peer.NewHubClient(*hubURL, local, handlers, log)

	signaler := peer.NewFallbackSignaler(client, *apiURL+"/api/v1/signals", log)
	iceProvider := peer.NewCachedICEProvider(*apiURL+"/api/v1/webrtc/config", log)

	negotiator = peer.NewNegotiator(local, remote, signaler, iceProvider, channelHandlers, log,
		peer.WithStateListener(func(state peer.NegotiationState) {
			fmt.Printf("-- negotiation: %s\n", state)
		}),
	)

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		log.Warnw("initial hub connect failed, retrying in background", "error", err)
	}
	if err := negotiator.Start(ctx); err != nil {
		log.Warnw("negotiation start failed", "error", err)
	}

	typingSender := peer.NewTypingSender(peer.SystemClock(), func(state domain.TypingState) {
		event := domain.TypingEvent{
			SenderID:       local,
			RecipientID:    remote,
			ConversationID: conversation,
			State:          state,
			Timestamp:      time.Now(),
		}
		if negotiator.ChannelOpen() {
			if err := negotiator.SendTyping(event); err == nil {
				return
			}
		}
		_ = client.SendTyping(remote, state)
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Printf("-- chatting with %s (conversation %s), ^C to quit\n", remote, conversation)

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				shutdown(negotiator, client)
				return
			}
			if utils.IsEmpty(line) {
				typingSender.Keystroke()
				continue
			}
			typingSender.Flush()

			msg := domain.ChatMessage{
				ID:             domain.MessageID(utils.GenerateMessageID()),
				ConversationID: conversation,
				SenderID:       local,
				RecipientID:    remote,
				Content:        utils.SanitizeString(line),
				SentAt:         time.Now(),
			}
			if negotiator.ChannelOpen() {
				if err := negotiator.SendMessage(&msg); err == nil {
					continue
				}
			}
			// Relay fallback: the hub persists and fans out.
			if err := client.SendMessage(&msg); err != nil {
				fmt.Println("-- send failed, hub unreachable")
			}

		case <-sigChan:
			shutdown(negotiator, client)
			return
		}
	}
}

func shutdown(negotiator *peer.Negotiator, client *peer.HubClient) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	negotiator.Close(ctx)
	_ = client.Close()
}
