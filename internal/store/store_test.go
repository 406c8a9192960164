package store

import (
	"context"
	"testing"
	"time"
)

func newTestSession(id, userID string) *Session {
	return &Session{
		ID:          id,
		UserID:      userID,
		CharacterID: "char-1",
		Model:       "gpt-4o-mini",
		Temperature: 0.8,
		Prompt:      "You are a character.",
		CreatedAt:   time.Now(),
	}
}

func TestMemorySessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewMemory(time.Hour)

	if _, err := st.GetSession(ctx, "missing"); err != ErrSessionNotFound {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}

	if err := st.CreateSession(ctx, newTestSession("s1", "u1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sess, err := st.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.UserID != "u1" || sess.Cycles != 0 {
		t.Fatalf("round trip lost fields: %+v", sess)
	}
}

func TestMemoryAppendOrderIsReadOrder(t *testing.T) {
	ctx := context.Background()
	st := NewMemory(time.Hour)
	if err := st.CreateSession(ctx, newTestSession("s1", "u1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	texts := []string{"one", "two", "three", "four"}
	for _, text := range texts {
		if err := st.AppendMessage(ctx, "s1", Message{Role: RoleUser, Content: text}); err != nil {
			t.Fatalf("AppendMessage(%q): %v", text, err)
		}
	}

	got, err := st.RecentMessages(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("got %d messages, want %d", len(got), len(texts))
	}
	for i, text := range texts {
		if got[i].Content != text {
			t.Fatalf("position %d = %q, want %q", i, got[i].Content, text)
		}
	}
}

func TestMemoryRecentMessagesWindow(t *testing.T) {
	ctx := context.Background()
	st := NewMemory(time.Hour)
	if err := st.CreateSession(ctx, newTestSession("s1", "u1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for i := 0; i < 5; i++ {
		_ = st.AppendMessage(ctx, "s1", Message{Role: RoleUser, Content: string(rune('a' + i))})
	}

	got, err := st.RecentMessages(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(got) != 2 || got[0].Content != "d" || got[1].Content != "e" {
		t.Fatalf("window = %+v, want the last two oldest-first", got)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	st := NewMemory(time.Hour)
	ms := st.(*memoryStore)
	base := time.Now()
	ms.now = func() time.Time { return base }

	if err := st.CreateSession(ctx, newTestSession("s1", "u1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	_ = st.AppendMessage(ctx, "s1", Message{Role: RoleUser, Content: "hi"})

	ms.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, err := st.GetSession(ctx, "s1"); err != ErrSessionNotFound {
		t.Fatalf("expired session returned %v, want ErrSessionNotFound", err)
	}
	if count, _ := st.MessageCount(ctx, "s1"); count != 0 {
		t.Fatalf("expired session still has %d messages", count)
	}
	if summary, _ := st.GetSummary(ctx, "s1"); summary != "" {
		t.Fatalf("expired session still has summary %q", summary)
	}
}

func TestMemoryAppendSlidesExpiry(t *testing.T) {
	ctx := context.Background()
	st := NewMemory(time.Hour)
	ms := st.(*memoryStore)
	base := time.Now()
	ms.now = func() time.Time { return base }

	if err := st.CreateSession(ctx, newTestSession("s1", "u1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	_ = st.SetSummary(ctx, "s1", "early synopsis")

	// Writes keep arriving up to the edge of the creation-time deadline;
	// each one pushes the whole session's expiry out.
	ms.now = func() time.Time { return base.Add(50 * time.Minute) }
	if err := st.AppendMessage(ctx, "s1", Message{Role: RoleUser, Content: "still here"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	// Past the original deadline the active session is intact, messages
	// and summary included.
	ms.now = func() time.Time { return base.Add(90 * time.Minute) }
	if _, err := st.GetSession(ctx, "s1"); err != nil {
		t.Fatalf("active session expired under the user: %v", err)
	}
	if count, _ := st.MessageCount(ctx, "s1"); count != 1 {
		t.Fatalf("message count = %d, want 1", count)
	}
	if summary, _ := st.GetSummary(ctx, "s1"); summary != "early synopsis" {
		t.Fatalf("summary = %q, want it to survive with the session", summary)
	}
}

func TestMemoryCyclesAndSummary(t *testing.T) {
	ctx := context.Background()
	st := NewMemory(time.Hour)
	if err := st.CreateSession(ctx, newTestSession("s1", "u1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := st.IncrementCycles(ctx, "s1")
		if err != nil {
			t.Fatalf("IncrementCycles: %v", err)
		}
		if got != want {
			t.Fatalf("cycle = %d, want %d", got, want)
		}
	}

	if err := st.SetSummary(ctx, "s1", "they met at the harbor"); err != nil {
		t.Fatalf("SetSummary: %v", err)
	}
	if summary, _ := st.GetSummary(ctx, "s1"); summary != "they met at the harbor" {
		t.Fatalf("summary = %q", summary)
	}
	// Overwrite, not append.
	_ = st.SetSummary(ctx, "s1", "newer synopsis")
	if summary, _ := st.GetSummary(ctx, "s1"); summary != "newer synopsis" {
		t.Fatalf("summary = %q, want overwrite", summary)
	}
}

func TestMemoryRefreshModelSettings(t *testing.T) {
	ctx := context.Background()
	st := NewMemory(time.Hour)
	if err := st.CreateSession(ctx, newTestSession("s1", "u1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := st.SetGenerationSettings(ctx, &GenerationSettings{Model: "gpt-5", Temperature: 0.3}); err != nil {
		t.Fatalf("SetGenerationSettings: %v", err)
	}

	sess, err := st.RefreshModelSettings(ctx, "s1")
	if err != nil {
		t.Fatalf("RefreshModelSettings: %v", err)
	}
	if sess.Model != "gpt-5" || sess.Temperature != 0.3 {
		t.Fatalf("refresh did not apply: %+v", sess)
	}
}

func TestRedisSessionFieldCodec(t *testing.T) {
	sess := newTestSession("s1", "u1")
	sess.Cycles = 7
	sess.ScenePrompt = "scene variant"
	sess.CreatedAt = time.Unix(1700000000, 0)

	fields := map[string]string{
		"user_id":      sess.UserID,
		"character_id": sess.CharacterID,
		"user_role_id": sess.UserRoleID,
		"model":        sess.Model,
		"temperature":  "0.8",
		"prompt":       sess.Prompt,
		"scene_prompt": sess.ScenePrompt,
		"created_at":   "1700000000",
		"cycles":       "7",
	}
	got := sessionFromFields("s1", fields)
	if got.Model != sess.Model || got.Temperature != 0.8 || got.Cycles != 7 {
		t.Fatalf("decoded %+v", got)
	}
	if !got.CreatedAt.Equal(sess.CreatedAt) {
		t.Fatalf("created_at decoded as %v", got.CreatedAt)
	}
	if got.PromptFor(ChatModeScene) != "scene variant" {
		t.Fatalf("scene prompt variant not selected")
	}
	if got.PromptFor(ChatModeDaily) != sess.Prompt {
		t.Fatalf("daily mode must use the plain prompt")
	}
}
