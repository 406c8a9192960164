package store

import "context"

// Store is the durable-but-ephemeral state behind a conversation: one
// session record, one append-only message list and one summary scalar
// per session id, all sharing the session TTL.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// IncrementCycles bumps the completed-generation counter and returns
	// the new value.
	IncrementCycles(ctx context.Context, id string) (int64, error)
	// RefreshModelSettings re-reads the global generation settings onto
	// the session record.
	RefreshModelSettings(ctx context.Context, id string) (*Session, error)

	AppendMessage(ctx context.Context, id string, m Message) error
	// RecentMessages returns the last limit turns, oldest first.
	RecentMessages(ctx context.Context, id string, limit int) ([]Message, error)
	MessageCount(ctx context.Context, id string) (int64, error)

	SetSummary(ctx context.Context, id, summary string) error
	GetSummary(ctx context.Context, id string) (string, error)

	GetGenerationSettings(ctx context.Context) (*GenerationSettings, error)
	SetGenerationSettings(ctx context.Context, gs *GenerationSettings) error

	// GetCharacter reads a profile written by the character CRUD
	// subsystem (an external collaborator sharing this store).
	GetCharacter(ctx context.Context, id string) (*CharacterProfile, error)
}
