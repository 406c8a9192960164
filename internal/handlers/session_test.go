package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/companion-backend/internal/chat"
	"github.com/yungbote/companion-backend/internal/gateway"
	"github.com/yungbote/companion-backend/internal/handlers"
	"github.com/yungbote/companion-backend/internal/llm"
	"github.com/yungbote/companion-backend/internal/platform/logger"
	"github.com/yungbote/companion-backend/internal/scheduler"
	"github.com/yungbote/companion-backend/internal/store"
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

type nullLLM struct{}

func (nullLLM) Generate(context.Context, llm.GenerateRequest) (string, error) { return "ok", nil }

type nullSender struct{}

func (nullSender) SendToSession(string, gateway.OutboundFrame) {}

func newTestRouter(t *testing.T) (*gin.Engine, store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := mustTestLogger(t)

	st := store.NewMemory(time.Hour)
	store.RegisterCharacter(st, store.CharacterProfile{
		ID:          "char-1",
		Name:        "Mika",
		Prompt:      "You are Mika.",
		OpeningLine: "Hey! You made it.",
	})
	sched := scheduler.New(log, 10*time.Millisecond)
	engine := chat.NewEngine(log, st, nullLLM{}, sched, nullSender{}, chat.Config{})
	sh := handlers.NewSessionHandler(log, engine, st)
	settings := handlers.NewSettingsHandler(log, st)

	router := gin.New()
	// Stand-in for the auth middleware: the handlers only need user_id.
	router.Use(func(c *gin.Context) {
		uid := c.GetHeader("X-Test-User")
		if uid == "" {
			uid = "user-1"
		}
		c.Set("user_id", uid)
	})
	router.POST("/api/sessions", sh.Create)
	router.GET("/api/sessions/:id", sh.Get)
	router.GET("/api/sessions/:id/messages", sh.History)
	router.POST("/api/sessions/:id/model", sh.RefreshModel)
	router.GET("/api/settings/generation", settings.Get)
	router.PUT("/api/settings/generation", settings.Update)
	return router, st
}

func createSession(t *testing.T, router *gin.Engine, characterID string) (int, map[string]any) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"characterId": characterID})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var decoded map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	return w.Code, decoded
}

func TestCreateSession(t *testing.T) {
	router, st := newTestRouter(t)

	code, decoded := createSession(t, router, "char-1")
	if code != http.StatusOK {
		t.Fatalf("status = %d: %v", code, decoded)
	}
	sessionID, _ := decoded["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("no sessionId in response: %v", decoded)
	}

	// Opening line is seeded at creation.
	messages, err := st.RecentMessages(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "Hey! You made it." {
		t.Fatalf("seeded history = %+v", messages)
	}
}

func TestCreateSessionUnknownCharacter(t *testing.T) {
	router, _ := newTestRouter(t)
	if code, decoded := createSession(t, router, "nobody"); code != http.StatusNotFound {
		t.Fatalf("status = %d: %v", code, decoded)
	}
}

func TestCreateSessionMissingCharacterID(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestFetchSession(t *testing.T) {
	router, _ := newTestRouter(t)
	_, decoded := createSession(t, router, "char-1")
	sessionID := decoded["sessionId"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sessionID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out["characterId"] != "char-1" {
		t.Fatalf("fetched session = %v", out)
	}
}

func TestFetchSessionNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/expired-or-unknown", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out["error"] != "session_not_found" {
		t.Fatalf("error code = %v", out["error"])
	}
}

func TestSessionHiddenFromOtherUsers(t *testing.T) {
	router, st := newTestRouter(t)
	_, decoded := createSession(t, router, "char-1")
	sessionID := decoded["sessionId"].(string)
	_ = st.AppendMessage(context.Background(), sessionID, store.Message{Role: store.RoleUser, Content: "my secret"})

	for _, path := range []string{
		"/api/sessions/" + sessionID,
		"/api/sessions/" + sessionID + "/messages",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Test-User", "user-2")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Fatalf("GET %s as another user = %d, want 404", path, w.Code)
		}
		var out map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &out)
		if out["error"] != "session_not_found" {
			t.Fatalf("GET %s error code = %v", path, out["error"])
		}
		if _, leaked := out["messages"]; leaked {
			t.Fatalf("GET %s leaked message history", path)
		}
	}
}

func TestRefreshModelPicksUpNewSettings(t *testing.T) {
	router, _ := newTestRouter(t)
	_, decoded := createSession(t, router, "char-1")
	sessionID := decoded["sessionId"].(string)

	body, _ := json.Marshal(map[string]any{"model": "gpt-5", "temperature": 0.3})
	req := httptest.NewRequest(http.MethodPut, "/api/settings/generation", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("settings update = %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/sessions/"+sessionID+"/model", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("model refresh = %d: %s", w.Code, w.Body.String())
	}
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out["model"] != "gpt-5" {
		t.Fatalf("refreshed model = %v, want gpt-5", out["model"])
	}

	// Only the owner may refresh.
	req = httptest.NewRequest(http.MethodPost, "/api/sessions/"+sessionID+"/model", nil)
	req.Header.Set("X-Test-User", "user-2")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("refresh as another user = %d, want 404", w.Code)
	}
}

func TestHistoryWindowAndOrder(t *testing.T) {
	router, st := newTestRouter(t)
	_, decoded := createSession(t, router, "char-1")
	sessionID := decoded["sessionId"].(string)

	for _, text := range []string{"one", "two", "three"} {
		_ = st.AppendMessage(context.Background(), sessionID, store.Message{Role: store.RoleUser, Content: text})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sessionID+"/messages?limit=2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Messages) != 2 || out.Messages[0].Content != "two" || out.Messages[1].Content != "three" {
		t.Fatalf("window = %+v, want last two oldest-first", out.Messages)
	}
}
