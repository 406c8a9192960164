package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/companion-backend/internal/platform/logger"
	"github.com/yungbote/companion-backend/internal/store"
)

// SettingsHandler is the write surface for the global generation
// settings. New sessions snapshot these at creation; existing sessions
// pick them up through the session model-refresh endpoint.
type SettingsHandler struct {
	log   *logger.Logger
	store store.Store
}

func NewSettingsHandler(log *logger.Logger, st store.Store) *SettingsHandler {
	return &SettingsHandler{
		log:   log.With("Handler", "SettingsHandler"),
		store: st,
	}
}

func (sh *SettingsHandler) Get(c *gin.Context) {
	gs, err := sh.store.GetGenerationSettings(c.Request.Context())
	if err != nil {
		sh.log.Error("Settings read failed", "error", err)
		respondErr(c, storeErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"model": gs.Model, "temperature": gs.Temperature})
}

type updateSettingsRequest struct {
	Model       string  `json:"model" binding:"required"`
	Temperature float64 `json:"temperature"`
}

func (sh *SettingsHandler) Update(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	gs := &store.GenerationSettings{Model: req.Model, Temperature: req.Temperature}
	if err := sh.store.SetGenerationSettings(c.Request.Context(), gs); err != nil {
		sh.log.Error("Settings write failed", "error", err)
		respondErr(c, storeErr(err))
		return
	}
	sh.log.Info("Generation settings updated", "model", gs.Model)
	c.JSON(http.StatusOK, gin.H{"model": gs.Model, "temperature": gs.Temperature})
}
