package outbound

import (
	"sync"
	"testing"
	"time"

	"github.com/yungbote/companion-backend/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

type recorder struct {
	mu     sync.Mutex
	sends  []string
	events []Event
}

func (r *recorder) send(id, _ string) {
	r.mu.Lock()
	r.sends = append(r.sends, id)
	r.mu.Unlock()
}

func (r *recorder) event(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) sendCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sends)
}

func waitForState(t *testing.T, tr *Tracker, id string, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _, ok := tr.State(id); ok && st == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, _, _ := tr.State(id)
	t.Fatalf("message %s stuck in %q, want %q", id, st, want)
}

func TestAckBeforeTimeout(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(mustTestLogger(t), 200*time.Millisecond, 100*time.Millisecond, rec.send, rec.event)

	tr.Send("m1", "hello")
	if st, _, ok := tr.State("m1"); !ok || st != StateOptimistic {
		t.Fatalf("after send state = %q, want optimistic", st)
	}
	tr.Ack("m1")
	waitForState(t, tr, "m1", StateAcknowledged)

	// Neither timer may fire after the ack cancelled them.
	time.Sleep(300 * time.Millisecond)
	st, spinner, _ := tr.State("m1")
	if st != StateAcknowledged || spinner {
		t.Fatalf("post-ack state = %q spinner=%v, want acknowledged without spinner", st, spinner)
	}
}

func TestAckIsIdempotent(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(mustTestLogger(t), 100*time.Millisecond, 50*time.Millisecond, rec.send, rec.event)

	tr.Send("m1", "hello")
	tr.Ack("m1")
	rec.mu.Lock()
	eventsAfterFirst := len(rec.events)
	rec.mu.Unlock()

	tr.Ack("m1")
	rec.mu.Lock()
	eventsAfterSecond := len(rec.events)
	rec.mu.Unlock()

	if eventsAfterSecond != eventsAfterFirst {
		t.Fatalf("duplicate ack emitted an event (%d -> %d)", eventsAfterFirst, eventsAfterSecond)
	}
	// The duplicate must not have re-armed anything.
	time.Sleep(200 * time.Millisecond)
	if st, _, _ := tr.State("m1"); st != StateAcknowledged {
		t.Fatalf("state regressed to %q after duplicate ack", st)
	}
}

func TestSpinnerFiresBeforeAck(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(mustTestLogger(t), time.Second, 30*time.Millisecond, rec.send, rec.event)

	tr.Send("m1", "hello")
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, spinner, _ := tr.State("m1"); spinner {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, spinner, _ := tr.State("m1")
	if !spinner {
		t.Fatalf("spinner never fired")
	}
	if st != StateOptimistic {
		t.Fatalf("spinner changed logical state to %q", st)
	}
}

func TestAckTimeoutFailsMessage(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(mustTestLogger(t), 50*time.Millisecond, 20*time.Millisecond, rec.send, rec.event)

	tr.Send("m1", "hello")
	waitForState(t, tr, "m1", StateFailed)
	if _, spinner, _ := tr.State("m1"); spinner {
		t.Fatalf("spinner must clear when the message fails")
	}
}

func TestRetryReusesIdAndRearms(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(mustTestLogger(t), 60*time.Millisecond, 20*time.Millisecond, rec.send, rec.event)

	tr.Send("m1", "hello")
	waitForState(t, tr, "m1", StateFailed)

	if !tr.Retry("m1") {
		t.Fatalf("retry of a failed message must be accepted")
	}
	if st, _, _ := tr.State("m1"); st != StateAwaitingAck {
		t.Fatalf("after retry state = %q, want awaiting_ack", st)
	}
	if got := rec.sendCount(); got != 2 {
		t.Fatalf("retry re-submitted %d times total, want 2", got)
	}

	// Still no ack: the fresh timer fails it again.
	waitForState(t, tr, "m1", StateFailed)

	// Second retry then ack resolves it for good.
	if !tr.Retry("m1") {
		t.Fatalf("second retry must be accepted")
	}
	tr.Ack("m1")
	waitForState(t, tr, "m1", StateAcknowledged)
}

func TestRetryRejectedUnlessFailed(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(mustTestLogger(t), time.Second, time.Second, rec.send, rec.event)

	tr.Send("m1", "hello")
	if tr.Retry("m1") {
		t.Fatalf("retry of a pending message must be rejected")
	}
	tr.Ack("m1")
	if tr.Retry("m1") {
		t.Fatalf("retry of an acknowledged message must be rejected")
	}
	if tr.Retry("nope") {
		t.Fatalf("retry of an unknown id must be rejected")
	}
}
