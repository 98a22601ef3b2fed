package peer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"pairlink/internal/core/domain"
)

// MessageView is the merged per-message state assembled from the direct
// channel, the hub relay, and the persistent store. Delivery flags only move
// forward.
type MessageView struct {
	ID             domain.MessageID
	ConversationID domain.ConversationID
	SenderID       domain.PeerID
	RecipientID    domain.PeerID
	Content        string
	ReplyTo        domain.MessageID
	SentAt         time.Time
	Delivered      bool
	DeliveredAt    *time.Time
	Read           bool
	ReadAt         *time.Time
}

// Reconciler merges redundant message and status notifications into one
// consistent view. The same update may arrive over several transports in any
// order; applying it repeatedly must converge on the same state.
type Reconciler struct {
	localID domain.PeerID
	clock   Clock

	// emit publishes self-generated acknowledgements (delivered on arrival,
	// read on first render).
	emit func(update domain.MessageStatusUpdate)

	mu          sync.Mutex
	views       map[domain.MessageID]*MessageView
	readEmitted map[domain.MessageID]bool
}

func NewReconciler(localID domain.PeerID, clock Clock, emit func(domain.MessageStatusUpdate)) *Reconciler {
	return &Reconciler{
		localID:     localID,
		clock:       clock,
		emit:        emit,
		views:       make(map[domain.MessageID]*MessageView),
		readEmitted: make(map[domain.MessageID]bool),
	}
}

// messageKey falls back to a sender+recipient+timestamp composite for the
// rare record without an assigned id. Composite keys are for local dedup
// only and never leave this process.
func messageKey(msg *domain.ChatMessage) domain.MessageID {
	if msg.ID != "" {
		return msg.ID
	}
	return domain.MessageID(fmt.Sprintf("%s|%s|%d", msg.SenderID, msg.RecipientID, msg.SentAt.UnixMilli()))
}

// ObserveArrival applies a live inbound chat message. If it is addressed to
// the local peer and not a duplicate, a delivered acknowledgement is emitted
// immediately whether or not the sender asked for one.
func (r *Reconciler) ObserveArrival(msg *domain.ChatMessage) *MessageView {
	key := messageKey(msg)

	r.mu.Lock()
	_, known := r.views[key]
	view := r.mergeMessageLocked(key, msg)
	r.mu.Unlock()

	if !known && msg.RecipientID == r.localID && r.emit != nil {
		r.emit(domain.MessageStatusUpdate{
			MessageID:      key,
			ConversationID: msg.ConversationID,
			SenderID:       r.localID,
			RecipientID:    msg.SenderID,
			Status:         domain.StatusDelivered,
			Timestamp:      r.clock.Now(),
		})
	}
	return view
}

// ApplyStored hydrates from the persistent store, e.g. on page load. No
// acknowledgement is generated for historical records.
func (r *Reconciler) ApplyStored(msg *domain.ChatMessage) *MessageView {
	key := messageKey(msg)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mergeMessageLocked(key, msg)
}

func (r *Reconciler) mergeMessageLocked(key domain.MessageID, msg *domain.ChatMessage) *MessageView {
	view, ok := r.views[key]
	if !ok {
		view = &MessageView{ID: key}
		r.views[key] = view
	}

	if msg.ConversationID != "" {
		view.ConversationID = msg.ConversationID
	}
	if msg.SenderID != "" {
		view.SenderID = msg.SenderID
	}
	if msg.RecipientID != "" {
		view.RecipientID = msg.RecipientID
	}
	if msg.Content != "" {
		view.Content = msg.Content
	}
	if msg.ReplyTo != "" {
		view.ReplyTo = msg.ReplyTo
	}
	if !msg.SentAt.IsZero() {
		view.SentAt = msg.SentAt
	}
	return view
}

// ApplyStatus merges one status update. Flags are ORed and timestamps prefer
// the incoming value, so delivered-then-read and read-then-delivered both
// converge on delivered=true, read=true.
func (r *Reconciler) ApplyStatus(update domain.MessageStatusUpdate) *MessageView {
	r.mu.Lock()
	defer r.mu.Unlock()

	view, ok := r.views[update.MessageID]
	if !ok {
		view = &MessageView{
			ID:             update.MessageID,
			ConversationID: update.ConversationID,
			SenderID:       update.SenderID,
			RecipientID:    update.RecipientID,
		}
		r.views[update.MessageID] = view
	}

	ts := update.Timestamp
	switch update.Status {
	case domain.StatusDelivered:
		view.Delivered = true
		if !ts.IsZero() {
			view.DeliveredAt = &ts
		}
	case domain.StatusRead:
		// A read implies the message was delivered.
		view.Delivered = true
		view.Read = true
		if !ts.IsZero() {
			view.ReadAt = &ts
			if view.DeliveredAt == nil {
				view.DeliveredAt = &ts
			}
		}
	}
	return view
}

// MarkRead emits the read acknowledgement the first time a message is
// rendered as read locally. Later calls for the same id are no-ops.
func (r *Reconciler) MarkRead(id domain.MessageID) {
	r.mu.Lock()
	view, ok := r.views[id]
	if !ok || r.readEmitted[id] {
		r.mu.Unlock()
		return
	}
	r.readEmitted[id] = true
	now := r.clock.Now()
	view.Read = true
	view.ReadAt = &now
	sender := view.SenderID
	conversation := view.ConversationID
	r.mu.Unlock()

	if r.emit != nil {
		r.emit(domain.MessageStatusUpdate{
			MessageID:      id,
			ConversationID: conversation,
			SenderID:       r.localID,
			RecipientID:    sender,
			Status:         domain.StatusRead,
			Timestamp:      now,
		})
	}
}

// View returns the merged state for one message id.
func (r *Reconciler) View(id domain.MessageID) (*MessageView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	view, ok := r.views[id]
	if !ok {
		return nil, false
	}
	copied := *view
	return &copied, true
}

// Conversation lists merged views for one conversation ordered by send time.
func (r *Reconciler) Conversation(id domain.ConversationID) []*MessageView {
	r.mu.Lock()
	defer r.mu.Unlock()

	var views []*MessageView
	for _, view := range r.views {
		if view.ConversationID == id {
			copied := *view
			views = append(views, &copied)
		}
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].SentAt.Before(views[j].SentAt)
	})
	return views
}
