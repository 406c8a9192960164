package store

import (
	"context"
	"sync"
	"time"
)

// memoryStore is a process-local Store used in tests and when no
// REDIS_ADDR is configured (local development). TTL is enforced lazily
// on read, matching Redis expiry semantics closely enough for the
// callers here.
type memoryStore struct {
	mu         sync.RWMutex
	ttl        time.Duration
	sessions   map[string]*memorySession
	characters map[string]CharacterProfile
	settings   GenerationSettings
	now        func() time.Time
}

type memorySession struct {
	sess     Session
	messages []Message
	summary  string
	deadline time.Time
}

func NewMemory(ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &memoryStore{
		ttl:        ttl,
		sessions:   make(map[string]*memorySession),
		characters: make(map[string]CharacterProfile),
		settings:   GenerationSettings{Model: "gpt-4o-mini", Temperature: 0.8},
		now:        time.Now,
	}
}

// RegisterCharacter seeds a character profile. Only the in-memory store
// exposes this; with Redis the character CRUD subsystem writes profiles.
func RegisterCharacter(s Store, p CharacterProfile) bool {
	ms, ok := s.(*memoryStore)
	if !ok {
		return false
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.characters[p.ID] = p
	return true
}

func (s *memoryStore) live(id string) *memorySession {
	ms, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if s.now().After(ms.deadline) {
		delete(s.sessions, id)
		return nil
	}
	return ms
}

func (s *memoryStore) CreateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &memorySession{sess: cp, deadline: s.now().Add(s.ttl)}
	return nil
}

func (s *memoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.live(id)
	if ms == nil {
		return nil, ErrSessionNotFound
	}
	cp := ms.sess
	return &cp, nil
}

func (s *memoryStore) IncrementCycles(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.live(id)
	if ms == nil {
		return 0, ErrSessionNotFound
	}
	ms.sess.Cycles++
	return ms.sess.Cycles, nil
}

func (s *memoryStore) RefreshModelSettings(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.live(id)
	if ms == nil {
		return nil, ErrSessionNotFound
	}
	ms.sess.Model = s.settings.Model
	ms.sess.Temperature = s.settings.Temperature
	cp := ms.sess
	return &cp, nil
}

func (s *memoryStore) AppendMessage(_ context.Context, id string, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.live(id)
	if ms == nil {
		return ErrSessionNotFound
	}
	ms.messages = append(ms.messages, m)
	ms.deadline = s.now().Add(s.ttl)
	return nil
}

func (s *memoryStore) RecentMessages(_ context.Context, id string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.live(id)
	if ms == nil || limit <= 0 {
		return nil, nil
	}
	start := len(ms.messages) - limit
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(ms.messages)-start)
	copy(out, ms.messages[start:])
	return out, nil
}

func (s *memoryStore) MessageCount(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.live(id)
	if ms == nil {
		return 0, nil
	}
	return int64(len(ms.messages)), nil
}

func (s *memoryStore) SetSummary(_ context.Context, id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.live(id)
	if ms == nil {
		return ErrSessionNotFound
	}
	ms.summary = summary
	return nil
}

func (s *memoryStore) GetSummary(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.live(id)
	if ms == nil {
		return "", nil
	}
	return ms.summary, nil
}

func (s *memoryStore) GetGenerationSettings(_ context.Context) (*GenerationSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := s.settings
	return &cp, nil
}

func (s *memoryStore) GetCharacter(_ context.Context, id string) (*CharacterProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.characters[id]
	if !ok {
		return nil, ErrCharacterNotFound
	}
	cp := p
	return &cp, nil
}

func (s *memoryStore) SetGenerationSettings(_ context.Context, gs *GenerationSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = *gs
	return nil
}
