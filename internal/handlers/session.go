package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/companion-backend/internal/chat"
	"github.com/yungbote/companion-backend/internal/platform/apierr"
	"github.com/yungbote/companion-backend/internal/platform/logger"
	"github.com/yungbote/companion-backend/internal/store"
)

// respondErr writes the stable error code; the wrapped cause stays in
// logs only.
func respondErr(c *gin.Context, e *apierr.Error) {
	c.JSON(e.Status, gin.H{"error": e.Code})
}

// storeErr maps store failures onto the API error taxonomy.
func storeErr(err error) *apierr.Error {
	if errors.Is(err, store.ErrSessionNotFound) {
		return apierr.New(http.StatusNotFound, "session_not_found", err)
	}
	if errors.Is(err, store.ErrCharacterNotFound) {
		return apierr.New(http.StatusNotFound, "character_not_found", err)
	}
	return apierr.New(http.StatusInternalServerError, "internal", err)
}

type SessionHandler struct {
	log    *logger.Logger
	engine *chat.Engine
	store  store.Store
}

func NewSessionHandler(log *logger.Logger, engine *chat.Engine, st store.Store) *SessionHandler {
	return &SessionHandler{
		log:    log.With("Handler", "SessionHandler"),
		engine: engine,
		store:  st,
	}
}

type createSessionRequest struct {
	CharacterID string `json:"characterId" binding:"required"`
	UserRoleID  string `json:"userRoleId"`
}

func (sh *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := sh.engine.CreateSession(c.Request.Context(), c.GetString("user_id"), req.CharacterID, req.UserRoleID)
	if err != nil {
		if !errors.Is(err, store.ErrCharacterNotFound) {
			sh.log.Error("Session creation failed", "character_id", req.CharacterID, "error", err)
		}
		respondErr(c, storeErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sess.ID})
}

// ownedSession loads the session and enforces ownership. A session that
// belongs to someone else reads as not found, so the id reveals nothing.
func (sh *SessionHandler) ownedSession(c *gin.Context) (*store.Session, *apierr.Error) {
	sess, err := sh.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, storeErr(err)
	}
	if uid := c.GetString("user_id"); uid != "" && sess.UserID != "" && sess.UserID != uid {
		return nil, apierr.New(http.StatusNotFound, "session_not_found", nil)
	}
	return sess, nil
}

func (sh *SessionHandler) Get(c *gin.Context) {
	sess, apiErr := sh.ownedSession(c)
	if apiErr != nil {
		respondErr(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":   sess.ID,
		"characterId": sess.CharacterID,
		"userRoleId":  sess.UserRoleID,
		"model":       sess.Model,
		"temperature": sess.Temperature,
		"createdAt":   sess.CreatedAt.Unix(),
	})
}

// RefreshModel re-snapshots the global generation settings onto the
// session, so a long-lived conversation can pick up a model or
// temperature change without being recreated.
func (sh *SessionHandler) RefreshModel(c *gin.Context) {
	sess, apiErr := sh.ownedSession(c)
	if apiErr != nil {
		respondErr(c, apiErr)
		return
	}
	updated, err := sh.store.RefreshModelSettings(c.Request.Context(), sess.ID)
	if err != nil {
		sh.log.Error("Model refresh failed", "session_id", sess.ID, "error", err)
		respondErr(c, storeErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":   updated.ID,
		"model":       updated.Model,
		"temperature": updated.Temperature,
	})
}

func (sh *SessionHandler) History(c *gin.Context) {
	sess, apiErr := sh.ownedSession(c)
	if apiErr != nil {
		respondErr(c, apiErr)
		return
	}
	id := sess.ID

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	messages, err := sh.store.RecentMessages(c.Request.Context(), id, limit)
	if err != nil {
		respondErr(c, storeErr(err))
		return
	}

	out := make([]gin.H, 0, len(messages))
	for _, m := range messages {
		entry := gin.H{
			"role":      string(m.Role),
			"content":   m.Content,
			"createdAt": m.CreatedAt,
		}
		if m.Quote != "" {
			entry["quote"] = m.Quote
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}
