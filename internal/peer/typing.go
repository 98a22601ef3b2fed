package peer

import (
	"sync"
	"time"

	"pairlink/internal/core/domain"
)

// typingStopDelay is the idle window after the last keystroke before an
// automatic stop is sent.
const typingStopDelay = 2 * time.Second

// typingClearDelay is how long a receiver shows the indicator after the last
// start when no stop arrives. Covers the case where the stop itself is lost.
const typingClearDelay = 4 * time.Second

// TypingSender debounces keystrokes into start/stop events: one start on the
// first keystroke after idle, one stop after the idle window or on an
// explicit flush (blur, submit).
type TypingSender struct {
	send  func(state domain.TypingState)
	clock Clock

	mu     sync.Mutex
	active bool
	timer  Timer
}

func NewTypingSender(clock Clock, send func(state domain.TypingState)) *TypingSender {
	return &TypingSender{send: send, clock: clock}
}

// Keystroke registers input activity. The first call after idle emits a
// start; every call pushes the automatic stop out by the idle window.
func (t *TypingSender) Keystroke() {
	t.mu.Lock()
	wasActive := t.active
	t.active = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.clock.AfterFunc(typingStopDelay, t.Flush)
	t.mu.Unlock()

	if !wasActive {
		t.send(domain.TypingStart)
	}
}

// Flush emits the stop immediately if typing is active. Called on blur and
// message submit as well as by the debounce timer.
func (t *TypingSender) Flush() {
	t.mu.Lock()
	wasActive := t.active
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	if wasActive {
		t.send(domain.TypingStop)
	}
}

// Cancel drops state without emitting anything. Used on teardown where a
// trailing stop event would race the bye.
func (t *TypingSender) Cancel() {
	t.mu.Lock()
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
}

// TypingIndicator tracks which remote peers are typing and self-corrects by
// clearing each indicator a fixed delay after its last start.
type TypingIndicator struct {
	clock    Clock
	onChange func(peer domain.PeerID, typing bool)

	mu     sync.Mutex
	timers map[domain.PeerID]Timer
}

func NewTypingIndicator(clock Clock, onChange func(peer domain.PeerID, typing bool)) *TypingIndicator {
	return &TypingIndicator{
		clock:    clock,
		onChange: onChange,
		timers:   make(map[domain.PeerID]Timer),
	}
}

// Observe applies one typing event from a remote peer.
func (t *TypingIndicator) Observe(event domain.TypingEvent) {
	switch event.State {
	case domain.TypingStart:
		t.mu.Lock()
		if timer, ok := t.timers[event.SenderID]; ok {
			timer.Stop()
		}
		fresh := t.timers[event.SenderID] == nil
		peer := event.SenderID
		t.timers[peer] = t.clock.AfterFunc(typingClearDelay, func() {
			t.clear(peer)
		})
		t.mu.Unlock()

		if fresh {
			t.onChange(event.SenderID, true)
		}

	case domain.TypingStop:
		t.clear(event.SenderID)
	}
}

// Typing reports whether the peer currently shows as typing.
func (t *TypingIndicator) Typing(peer domain.PeerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[peer]
	return ok
}

func (t *TypingIndicator) clear(peer domain.PeerID) {
	t.mu.Lock()
	timer, ok := t.timers[peer]
	if ok {
		timer.Stop()
		delete(t.timers, peer)
	}
	t.mu.Unlock()

	if ok {
		t.onChange(peer, false)
	}
}
