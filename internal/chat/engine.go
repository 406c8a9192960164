// Package chat is the conversation engine: it turns inbound user turns
// into exactly one well-timed generation per quiet period and delivers
// the reply as paced, ordered chunks.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/companion-backend/internal/gateway"
	"github.com/yungbote/companion-backend/internal/llm"
	"github.com/yungbote/companion-backend/internal/platform/envutil"
	"github.com/yungbote/companion-backend/internal/platform/logger"
	"github.com/yungbote/companion-backend/internal/scheduler"
	"github.com/yungbote/companion-backend/internal/store"
)

// ErrUnauthorized means the turn's sender does not own the session. The
// engine fails closed: nothing is stored and nothing is generated.
var ErrUnauthorized = gateway.ErrUnauthorized

// Sender is the outbound half of the realtime gateway.
type Sender interface {
	SendToSession(sessionID string, frame gateway.OutboundFrame)
}

type Config struct {
	// PacingDelay separates consecutive reply chunks.
	PacingDelay time.Duration
	// HistoryWindow bounds how many recent turns feed a generation.
	HistoryWindow int
	// SummaryRounds is the round count past which summarization kicks in.
	SummaryRounds int
	// SummaryMaxChars caps the stored synopsis length.
	SummaryMaxChars int
}

func ConfigFromEnv() Config {
	return Config{
		PacingDelay:     envutil.Duration("CHAT_PACING_DELAY", 2*time.Second),
		HistoryWindow:   envutil.Int("CHAT_HISTORY_WINDOW", 40),
		SummaryRounds:   envutil.Int("CHAT_SUMMARY_ROUNDS", 200),
		SummaryMaxChars: envutil.Int("CHAT_SUMMARY_MAX_CHARS", 100),
	}
}

func (c Config) withDefaults() Config {
	if c.PacingDelay <= 0 {
		c.PacingDelay = 2 * time.Second
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 40
	}
	if c.SummaryRounds <= 0 {
		c.SummaryRounds = 200
	}
	if c.SummaryMaxChars <= 0 {
		c.SummaryMaxChars = 100
	}
	return c
}

type Engine struct {
	log    *logger.Logger
	store  store.Store
	llm    llm.Client
	sched  *scheduler.Scheduler
	sender Sender
	cfg    Config
}

func NewEngine(log *logger.Logger, st store.Store, client llm.Client, sched *scheduler.Scheduler, sender Sender, cfg Config) *Engine {
	return &Engine{
		log:    log.With("service", "ChatEngine"),
		store:  st,
		llm:    client,
		sched:  sched,
		sender: sender,
		cfg:    cfg.withDefaults(),
	}
}

// CreateSession starts a conversation with a character: snapshot the
// global generation settings, copy the character's prompts onto the
// session, and seed the opening line into the message log when the
// character has one.
func (e *Engine) CreateSession(ctx context.Context, userID, characterID, userRoleID string) (*store.Session, error) {
	profile, err := e.store.GetCharacter(ctx, characterID)
	if err != nil {
		return nil, err
	}
	gs, err := e.store.GetGenerationSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load generation settings: %w", err)
	}

	sess := &store.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		CharacterID: characterID,
		UserRoleID:  userRoleID,
		Model:       gs.Model,
		Temperature: gs.Temperature,
		Prompt:      profile.Prompt,
		ScenePrompt: profile.ScenePrompt,
		CreatedAt:   time.Now(),
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	if opening := strings.TrimSpace(profile.OpeningLine); opening != "" {
		m := store.Message{Role: store.RoleAssistant, Content: opening, CreatedAt: time.Now().Unix()}
		if err := e.store.AppendMessage(ctx, sess.ID, m); err != nil {
			return nil, fmt.Errorf("seed opening line: %w", err)
		}
	}

	e.log.Info("Session created", "session_id", sess.ID, "user_id", userID, "character_id", characterID)
	return sess, nil
}

// Authorize reports whether userID may interact with the session. The
// gateway consults it before attaching a connection to a session, so an
// unowned or unknown session id never earns a subscription.
func (e *Engine) Authorize(ctx context.Context, userID, sessionID string) error {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if userID != "" && sess.UserID != "" && sess.UserID != userID {
		return ErrUnauthorized
	}
	return nil
}

// HandleTyping records activity; the debounce recheck reads it later.
func (e *Engine) HandleTyping(sessionID string) {
	e.sched.NotifyTyping(sessionID)
}

// HandleTurn processes one inbound user turn: validate ownership, append
// the turn, acknowledge it, and register a generation job that runs once
// the conversation is quiet. The ack goes out only after the append
// succeeds, so an acked turn is a durably stored turn.
func (e *Engine) HandleTurn(ctx context.Context, userID string, frame gateway.InboundFrame) error {
	if err := e.Authorize(ctx, userID, frame.SessionID); err != nil {
		return err
	}

	text := strings.TrimSpace(frame.Text)
	if text == "" {
		return nil
	}

	userMsg := store.Message{Role: store.RoleUser, Content: text, CreatedAt: time.Now().Unix()}
	if err := e.store.AppendMessage(ctx, frame.SessionID, userMsg); err != nil {
		return err
	}
	if frame.ClientMsgID != "" {
		e.sender.SendToSession(frame.SessionID, gateway.UserAck(frame.SessionID, frame.ClientMsgID))
	}

	mode := store.ChatMode(frame.ChatMode)
	sessionID := frame.SessionID
	e.sched.NotifyMessage(sessionID, func() {
		e.generate(sessionID, mode, text)
	})
	return nil
}

// generate runs one full generation cycle. All failures are absorbed
// here: the conversation simply goes without a reply for this turn.
func (e *Engine) generate(sessionID string, mode store.ChatMode, userTurn string) {
	ctx := context.Background()

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		e.log.Warn("Session gone before generation", "session_id", sessionID, "error", err)
		return
	}

	req, err := e.buildRequest(ctx, sess, mode, userTurn)
	if err != nil {
		e.log.Error("Context assembly failed", "session_id", sessionID, "error", err)
		return
	}

	text, err := e.llm.Generate(ctx, req)
	if err != nil {
		e.log.Error("Generation failed, no reply for this turn",
			"session_id", sessionID,
			"model", sess.Model,
			"error", err,
		)
		return
	}

	e.deliver(ctx, sessionID, userTurn, text)
	e.maybeSummarize(ctx, sess)
}

func (e *Engine) buildRequest(ctx context.Context, sess *store.Session, mode store.ChatMode, userTurn string) (llm.GenerateRequest, error) {
	system := sess.PromptFor(mode)
	if summary, err := e.store.GetSummary(ctx, sess.ID); err == nil && summary != "" {
		system = system + "\n\nWhat has happened so far: " + summary
	}

	history, err := e.store.RecentMessages(ctx, sess.ID, e.cfg.HistoryWindow)
	if err != nil {
		return llm.GenerateRequest{}, err
	}
	turns := make([]llm.Turn, 0, len(history))
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == store.RoleAssistant {
			role = llm.RoleAssistant
		}
		turns = append(turns, llm.Turn{Role: role, Content: m.Content})
	}

	return llm.GenerateRequest{
		System:      system,
		History:     turns,
		UserTurn:    userTurn,
		Model:       sess.Model,
		Temperature: sess.Temperature,
	}, nil
}

// deliver splits the reply into line chunks and appends/pushes them in
// order with the pacing delay between chunks. From the second completed
// cycle onward the first chunk quotes the user turn it answers.
func (e *Engine) deliver(ctx context.Context, sessionID, userTurn, text string) {
	chunks := SplitChunks(text)
	if len(chunks) == 0 {
		return
	}

	cycle, err := e.store.IncrementCycles(ctx, sessionID)
	if err != nil {
		e.log.Error("Cycle counter update failed", "session_id", sessionID, "error", err)
		return
	}
	quote := ""
	if cycle >= 2 {
		quote = userTurn
	}

	for i, chunk := range chunks {
		m := store.Message{Role: store.RoleAssistant, Content: chunk, CreatedAt: time.Now().Unix()}
		if i == 0 {
			m.Quote = quote
		}
		if err := e.store.AppendMessage(ctx, sessionID, m); err != nil {
			e.log.Error("Reply chunk append failed", "session_id", sessionID, "chunk", i, "error", err)
			return
		}
		e.sender.SendToSession(sessionID, gateway.AssistantMessage(sessionID, chunk, m.Quote))
		if i < len(chunks)-1 {
			time.Sleep(e.cfg.PacingDelay)
		}
	}
}

// SplitChunks breaks generated text on line breaks into trimmed,
// non-empty segments, preserving order.
func SplitChunks(text string) []string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
