package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/companion-backend/internal/chat"
	"github.com/yungbote/companion-backend/internal/gateway"
	"github.com/yungbote/companion-backend/internal/handlers"
	"github.com/yungbote/companion-backend/internal/llm"
	"github.com/yungbote/companion-backend/internal/middleware"
	"github.com/yungbote/companion-backend/internal/platform/envutil"
	"github.com/yungbote/companion-backend/internal/platform/logger"
	"github.com/yungbote/companion-backend/internal/scheduler"
	"github.com/yungbote/companion-backend/internal/server"
	"github.com/yungbote/companion-backend/internal/store"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Store
	var st store.Store
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		st, err = store.NewRedis(log)
		if err != nil {
			log.Fatal("Redis init failed", "error", err)
		}
	} else {
		log.Warn("REDIS_ADDR not set, using in-memory store (conversations do not survive restarts)")
		st = store.NewMemory(envutil.Duration("SESSION_TTL", 72*time.Hour))
	}

	// Generation client
	llmClient, err := llm.NewOpenAI(log)
	if err != nil {
		log.Fatal("LLM client init failed", "error", err)
	}

	// Scheduler + gateway + engine
	sched := scheduler.New(log, envutil.Duration("CHAT_QUIET_WINDOW", 2*time.Second))
	hub := gateway.NewHub(log)
	engine := chat.NewEngine(log, st, llmClient, sched, hub, chat.ConfigFromEnv())
	hub.SetHandler(engine)

	// HTTP surface
	authMiddleware := middleware.NewAuthMiddleware(log, envutil.Str("JWT_SECRET_KEY", "defaultsecret"))
	sessionHandler := handlers.NewSessionHandler(log, engine, st)
	settingsHandler := handlers.NewSettingsHandler(log, st)
	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware:  authMiddleware,
		SessionHandler:  sessionHandler,
		SettingsHandler: settingsHandler,
		Hub:             hub,
		AllowOrigins:    splitOrigins(os.Getenv("CORS_ALLOW_ORIGINS")),
	})

	addr := ":" + envutil.Str("PORT", "8080")
	srv := &http.Server{Addr: addr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("Server exited", "error", err)
	}
	log.Info("Shutdown complete")
}

func splitOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
