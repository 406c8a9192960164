// Package scheduler decides when a conversation is quiet enough to
// generate a reply. Each conversation carries its own debounce state and
// lock, so contention never crosses conversation boundaries.
package scheduler

import (
	"sync"
	"time"

	"github.com/yungbote/companion-backend/internal/platform/logger"
)

// Job is the unit of work to run once the conversation goes quiet.
type Job func()

type Scheduler struct {
	log   *logger.Logger
	quiet time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

// entry is the per-conversation debounce record. mu guards the typing
// timestamp and the pending timer; runMu serializes job execution so no
// two generations for one conversation ever overlap. dead marks a record
// that prune has dropped from the table: callers holding a stale pointer
// must re-fetch rather than arm work on it.
type entry struct {
	mu         sync.Mutex
	lastTyping time.Time
	timer      *time.Timer
	seq        uint64
	dead       bool

	runMu sync.Mutex
}

func New(log *logger.Logger, quietWindow time.Duration) *Scheduler {
	if quietWindow <= 0 {
		quietWindow = 2 * time.Second
	}
	return &Scheduler{
		log:     log.With("service", "Scheduler"),
		quiet:   quietWindow,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

func (s *Scheduler) entry(sessionID string) *entry {
	s.mu.RLock()
	e, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[sessionID]; ok {
		return e
	}
	e = &entry{}
	s.entries[sessionID] = e
	return e
}

// lockEntry returns the conversation's record with its mu held,
// re-fetching if prune retired the record between lookup and lock.
func (s *Scheduler) lockEntry(sessionID string) *entry {
	for {
		e := s.entry(sessionID)
		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

// NotifyTyping records activity for the conversation. No other side
// effect: a pending job is rechecked against this timestamp when its
// timer fires.
func (s *Scheduler) NotifyTyping(sessionID string) {
	e := s.lockEntry(sessionID)
	e.lastTyping = s.now()
	e.mu.Unlock()
}

// NotifyMessage registers job to run once the conversation has been
// quiet for the full window. A job already pending for this conversation
// is cancelled and replaced; the newest job always wins.
func (s *Scheduler) NotifyMessage(sessionID string, job Job) {
	if job == nil {
		return
	}
	e := s.lockEntry(sessionID)
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.seq++
	seq := e.seq
	delay := s.remainingLocked(e)
	e.timer = time.AfterFunc(delay, func() { s.fire(e, sessionID, seq, job) })
	e.mu.Unlock()

	s.log.Debug("Generation job scheduled", "session_id", sessionID, "delay", delay.String())
}

// remainingLocked returns how long until the quiet window has elapsed,
// zero when it already has. Caller holds e.mu.
func (s *Scheduler) remainingLocked(e *entry) time.Duration {
	if e.lastTyping.IsZero() {
		return 0
	}
	elapsed := s.now().Sub(e.lastTyping)
	if elapsed >= s.quiet {
		return 0
	}
	return s.quiet - elapsed
}

func (s *Scheduler) fire(e *entry, sessionID string, seq uint64, job Job) {
	e.mu.Lock()
	if e.seq != seq {
		// Superseded by a newer job while the timer was in flight.
		e.mu.Unlock()
		return
	}
	// Typing may have resumed between scheduling and expiry; push the
	// timer out rather than generating mid-sentence.
	if d := s.remainingLocked(e); d > 0 {
		e.timer = time.AfterFunc(d, func() { s.fire(e, sessionID, seq, job) })
		e.mu.Unlock()
		s.log.Debug("Quiet window not reached, rescheduling", "session_id", sessionID, "delay", d.String())
		return
	}
	e.timer = nil
	e.mu.Unlock()

	e.runMu.Lock()
	job()
	e.runMu.Unlock()

	s.prune(e, sessionID, seq)
}

// prune drops the conversation's record once its latest job has run, so
// the entry table only ever holds conversations with work pending. A
// newer job or fresh typing keeps the entry alive.
func (s *Scheduler) prune(e *entry, sessionID string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seq != seq || e.timer != nil || s.remainingLocked(e) > 0 {
		return
	}
	e.dead = true
	delete(s.entries, sessionID)
}
