package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/yungbote/companion-backend/internal/platform/envutil"
	"github.com/yungbote/companion-backend/internal/platform/logger"
)

// Turn is one prior message in provider-agnostic form.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GenerateRequest carries everything one generation call needs. History
// is ordered oldest-first and already bounded by the caller's window.
type GenerateRequest struct {
	System      string
	History     []Turn
	UserTurn    string
	Model       string
	Temperature float64
}

// Client produces one reply per call, absorbing transient backend
// failures internally. Implementations must never return an empty
// string with a nil error.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

type Config struct {
	BaseURL        string
	APIKey         string
	MaxAttempts    int
	AttemptTimeout time.Duration
	BackoffStep    time.Duration
	BackoffCap     time.Duration
	HTTPClient     *http.Client
}

type client struct {
	log            *logger.Logger
	baseURL        string
	apiKey         string
	maxAttempts    int
	attemptTimeout time.Duration
	backoffStep    time.Duration
	backoffCap     time.Duration
	httpClient     *http.Client
}

// NewOpenAI builds a Client against an OpenAI-compatible
// chat-completions endpoint, configured from the environment.
func NewOpenAI(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	return New(log, Config{
		BaseURL:        envutil.Str("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		APIKey:         apiKey,
		MaxAttempts:    envutil.Int("LLM_MAX_ATTEMPTS", 3),
		AttemptTimeout: envutil.Duration("LLM_ATTEMPT_TIMEOUT", 120*time.Second),
	})
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 120 * time.Second
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = 2 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 8 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &client{
		log:            log.With("service", "LLMClient"),
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		maxAttempts:    cfg.MaxAttempts,
		attemptTimeout: cfg.AttemptTimeout,
		backoffStep:    cfg.BackoffStep,
		backoffCap:     cfg.BackoffCap,
		httpClient:     cfg.HTTPClient,
	}, nil
}

// BuildTurns assembles the provider message list: system prompt first,
// then history, then the new user turn. The new turn is dropped when it
// exactly duplicates the final history entry, which happens when a
// client double-submits the same text.
func BuildTurns(req GenerateRequest) []Turn {
	turns := make([]Turn, 0, len(req.History)+2)
	if req.System != "" {
		turns = append(turns, Turn{Role: RoleSystem, Content: req.System})
	}
	turns = append(turns, req.History...)
	if req.UserTurn != "" {
		if n := len(req.History); n == 0 || req.History[n-1].Content != req.UserTurn {
			turns = append(turns, Turn{Role: RoleUser, Content: req.UserTurn})
		}
	}
	return turns
}

func (c *client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	turns := BuildTurns(req)

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := c.attempt(ctx, req, turns)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if attempt == c.maxAttempts {
			break
		}

		sleepFor := time.Duration(attempt) * c.backoffStep
		if sleepFor > c.backoffCap {
			sleepFor = c.backoffCap
		}
		c.log.Warn("Generation attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(sleepFor):
		}
	}

	return "", fmt.Errorf("%w after %d attempts: %v", ErrGenerationFailed, c.maxAttempts, lastErr)
}

func (c *client) attempt(ctx context.Context, req GenerateRequest, turns []Turn) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	text, err := c.doOnce(attemptCtx, req, turns)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", ErrTimeout
		}
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

type chatRequest struct {
	Model       string  `json:"model"`
	Messages    []Turn  `json:"messages"`
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *client) doOnce(ctx context.Context, req GenerateRequest, turns []Turn) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    turns,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return "", readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat completions status %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return decoded.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
