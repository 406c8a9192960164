package chat

import (
	"context"

	"github.com/yungbote/companion-backend/internal/llm"
	"github.com/yungbote/companion-backend/internal/store"
)

const summaryInstruction = "Summarize the conversation so far in at most 100 characters. " +
	"Keep names, relationship changes and unresolved plans. Reply with the summary only."

// maybeSummarize compresses history into a short synopsis once the
// conversation crosses the rounds threshold. Strictly best-effort: every
// failure is logged and swallowed, a stale or missing summary only
// degrades context quality.
func (e *Engine) maybeSummarize(ctx context.Context, sess *store.Session) {
	count, err := e.store.MessageCount(ctx, sess.ID)
	if err != nil {
		e.log.Warn("Summary skipped, message count unavailable", "session_id", sess.ID, "error", err)
		return
	}
	rounds := count / 2
	if rounds < int64(e.cfg.SummaryRounds) {
		return
	}

	history, err := e.store.RecentMessages(ctx, sess.ID, e.cfg.HistoryWindow)
	if err != nil {
		e.log.Warn("Summary skipped, history unavailable", "session_id", sess.ID, "error", err)
		return
	}
	turns := make([]llm.Turn, 0, len(history))
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == store.RoleAssistant {
			role = llm.RoleAssistant
		}
		turns = append(turns, llm.Turn{Role: role, Content: m.Content})
	}

	text, err := e.llm.Generate(ctx, llm.GenerateRequest{
		System:      summaryInstruction,
		History:     turns,
		Model:       sess.Model,
		Temperature: sess.Temperature,
	})
	if err != nil {
		e.log.Warn("Summary generation failed", "session_id", sess.ID, "error", err)
		return
	}

	text = truncateRunes(text, e.cfg.SummaryMaxChars)
	if err := e.store.SetSummary(ctx, sess.ID, text); err != nil {
		e.log.Warn("Summary write failed", "session_id", sess.ID, "error", err)
	}
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
