// Package outbound tracks each sent message through its
// optimistic-send / acknowledgment lifecycle on the client side, so the
// UI always has a deterministic state to render and a recovery path when
// the server never answers.
package outbound

import (
	"sync"
	"time"

	"github.com/yungbote/companion-backend/internal/platform/logger"
)

type State string

const (
	// StateOptimistic: rendered immediately on first send, ack pending.
	StateOptimistic State = "optimistic"
	// StateAwaitingAck: a resend of an already-failed message.
	StateAwaitingAck State = "awaiting_ack"
	StateAcknowledged State = "acknowledged"
	StateFailed       State = "failed"
)

// Event is pushed to the UI layer whenever a record changes.
type Event struct {
	ID      string
	State   State
	Spinner bool
}

// Record is one outbound message. Its timers live on the record itself
// so cancellation can never drift out of sync with state.
type Record struct {
	ID   string
	Text string

	state   State
	spinner bool

	ackTimer     *time.Timer
	spinnerTimer *time.Timer
}

// SendFunc submits the message through the gateway connection.
type SendFunc func(id, text string)

type Tracker struct {
	log          *logger.Logger
	ackTimeout   time.Duration
	spinnerDelay time.Duration
	send         SendFunc
	onEvent      func(Event)

	mu      sync.Mutex
	records map[string]*Record
}

func NewTracker(log *logger.Logger, ackTimeout, spinnerDelay time.Duration, send SendFunc, onEvent func(Event)) *Tracker {
	if ackTimeout <= 0 {
		ackTimeout = 8 * time.Second
	}
	if spinnerDelay <= 0 {
		spinnerDelay = 2 * time.Second
	}
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &Tracker{
		log:          log.With("component", "OutboundTracker"),
		ackTimeout:   ackTimeout,
		spinnerDelay: spinnerDelay,
		send:         send,
		onEvent:      onEvent,
		records:      make(map[string]*Record),
	}
}

// Send registers a new outbound message, submits it, and arms the ack
// and spinner timers.
func (t *Tracker) Send(id, text string) {
	t.mu.Lock()
	rec := &Record{ID: id, Text: text, state: StateOptimistic}
	t.records[id] = rec
	t.armLocked(rec)
	ev := t.eventLocked(rec)
	t.mu.Unlock()

	t.onEvent(ev)
	t.send(id, text)
}

// Ack marks the message acknowledged and cancels both timers. Idempotent:
// a duplicate ack for an already-acknowledged id changes nothing.
func (t *Tracker) Ack(id string) {
	t.mu.Lock()
	rec, ok := t.records[id]
	if !ok || rec.state == StateAcknowledged {
		t.mu.Unlock()
		return
	}
	t.cancelTimersLocked(rec)
	rec.state = StateAcknowledged
	rec.spinner = false
	ev := t.eventLocked(rec)
	t.mu.Unlock()

	t.onEvent(ev)
}

// Retry re-submits a failed message under the same id with fresh timers.
// Only valid from the failed state; a message may cycle failed -> retried
// -> failed indefinitely until acknowledged.
func (t *Tracker) Retry(id string) bool {
	t.mu.Lock()
	rec, ok := t.records[id]
	if !ok || rec.state != StateFailed {
		t.mu.Unlock()
		return false
	}
	rec.state = StateAwaitingAck
	rec.spinner = false
	t.armLocked(rec)
	ev := t.eventLocked(rec)
	text := rec.Text
	t.mu.Unlock()

	t.onEvent(ev)
	t.send(id, text)
	return true
}

// State reports the current lifecycle state and spinner mark.
func (t *Tracker) State(id string) (State, bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return "", false, false
	}
	return rec.state, rec.spinner, true
}

func (t *Tracker) armLocked(rec *Record) {
	t.cancelTimersLocked(rec)
	id := rec.ID
	rec.spinnerTimer = time.AfterFunc(t.spinnerDelay, func() { t.spinnerFired(id) })
	rec.ackTimer = time.AfterFunc(t.ackTimeout, func() { t.ackTimedOut(id) })
}

func (t *Tracker) cancelTimersLocked(rec *Record) {
	if rec.spinnerTimer != nil {
		rec.spinnerTimer.Stop()
		rec.spinnerTimer = nil
	}
	if rec.ackTimer != nil {
		rec.ackTimer.Stop()
		rec.ackTimer = nil
	}
}

func (t *Tracker) eventLocked(rec *Record) Event {
	return Event{ID: rec.ID, State: rec.state, Spinner: rec.spinner}
}

// spinnerFired marks the message visually "sending" without changing its
// lifecycle state.
func (t *Tracker) spinnerFired(id string) {
	t.mu.Lock()
	rec, ok := t.records[id]
	if !ok || rec.state == StateAcknowledged || rec.state == StateFailed {
		t.mu.Unlock()
		return
	}
	rec.spinner = true
	ev := t.eventLocked(rec)
	t.mu.Unlock()

	t.onEvent(ev)
}

func (t *Tracker) ackTimedOut(id string) {
	t.mu.Lock()
	rec, ok := t.records[id]
	if !ok || rec.state == StateAcknowledged {
		t.mu.Unlock()
		return
	}
	t.cancelTimersLocked(rec)
	rec.state = StateFailed
	rec.spinner = false
	ev := t.eventLocked(rec)
	t.mu.Unlock()

	t.log.Warn("Acknowledgment timed out", "client_msg_id", id)
	t.onEvent(ev)
}
