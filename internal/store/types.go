package store

import (
	"errors"
	"time"
)

// ErrSessionNotFound means the session id never existed or its TTL
// elapsed. Callers surface it as a terminal "start a new conversation"
// condition.
var ErrSessionNotFound = errors.New("session not found")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMode string

const (
	ChatModeDaily ChatMode = "daily"
	ChatModeScene ChatMode = "scene"
)

// Session is one conversation between a user and a character. Immutable
// after creation except for Model/Temperature (refreshed from global
// settings) and Cycles (bumped per completed generation).
type Session struct {
	ID          string
	UserID      string
	CharacterID string
	UserRoleID  string
	Model       string
	Temperature float64
	Prompt      string
	ScenePrompt string
	CreatedAt   time.Time
	Cycles      int64
}

// PromptFor returns the system prompt variant for the given chat mode.
func (s *Session) PromptFor(mode ChatMode) string {
	if mode == ChatModeScene && s.ScenePrompt != "" {
		return s.ScenePrompt
	}
	return s.Prompt
}

// Message is one turn. Quote is a copy of earlier text the turn echoes,
// not a reference to another record.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Quote     string `json:"quote,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// GenerationSettings is the global model record; sessions snapshot it at
// creation and may re-read it later.
type GenerationSettings struct {
	Model       string
	Temperature float64
}

// ErrCharacterNotFound means the referenced character profile does not
// exist in the shared store.
var ErrCharacterNotFound = errors.New("character not found")

// CharacterProfile is the slice of the character record this service
// consumes. The character CRUD subsystem owns and writes these; we only
// read them at session creation.
type CharacterProfile struct {
	ID          string
	Name        string
	Prompt      string
	ScenePrompt string
	OpeningLine string
}
