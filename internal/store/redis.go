package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/companion-backend/internal/platform/envutil"
	"github.com/yungbote/companion-backend/internal/platform/logger"
)

const settingsKey = "settings:generation"

type redisStore struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration

	defaultModel string
	defaultTemp  float64
}

// NewRedis connects to REDIS_ADDR and returns a Store whose records all
// expire SESSION_TTL after session creation (refreshed on every write so
// an active conversation never expires under the user).
func NewRedis(log *logger.Logger) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DB:          envutil.Int("REDIS_DB", 0),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisStore{
		log:          log.With("service", "RedisStore"),
		rdb:          rdb,
		ttl:          envutil.Duration("SESSION_TTL", 72*time.Hour),
		defaultModel: envutil.Str("GEN_MODEL", "gpt-4o-mini"),
		defaultTemp:  envutil.Float("GEN_TEMPERATURE", 0.8),
	}, nil
}

func sessionKey(id string) string  { return "session:" + id }
func messagesKey(id string) string { return "session:" + id + ":messages" }
func summaryKey(id string) string  { return "session:" + id + ":summary" }

func (s *redisStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id required")
	}
	fields := map[string]interface{}{
		"user_id":      sess.UserID,
		"character_id": sess.CharacterID,
		"user_role_id": sess.UserRoleID,
		"model":        sess.Model,
		"temperature":  strconv.FormatFloat(sess.Temperature, 'f', -1, 64),
		"prompt":       sess.Prompt,
		"scene_prompt": sess.ScenePrompt,
		"created_at":   strconv.FormatInt(sess.CreatedAt.Unix(), 10),
		"cycles":       strconv.FormatInt(sess.Cycles, 10),
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, sessionKey(sess.ID), fields)
	pipe.Expire(ctx, sessionKey(sess.ID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *redisStore) GetSession(ctx context.Context, id string) (*Session, error) {
	fields, err := s.rdb.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	return sessionFromFields(id, fields), nil
}

func sessionFromFields(id string, fields map[string]string) *Session {
	temp, _ := strconv.ParseFloat(fields["temperature"], 64)
	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	cycles, _ := strconv.ParseInt(fields["cycles"], 10, 64)
	return &Session{
		ID:          id,
		UserID:      fields["user_id"],
		CharacterID: fields["character_id"],
		UserRoleID:  fields["user_role_id"],
		Model:       fields["model"],
		Temperature: temp,
		Prompt:      fields["prompt"],
		ScenePrompt: fields["scene_prompt"],
		CreatedAt:   time.Unix(createdAt, 0),
		Cycles:      cycles,
	}
}

func (s *redisStore) IncrementCycles(ctx context.Context, id string) (int64, error) {
	exists, err := s.rdb.Exists(ctx, sessionKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment cycles: %w", err)
	}
	if exists == 0 {
		return 0, ErrSessionNotFound
	}
	n, err := s.rdb.HIncrBy(ctx, sessionKey(id), "cycles", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("increment cycles: %w", err)
	}
	return n, nil
}

func (s *redisStore) RefreshModelSettings(ctx context.Context, id string) (*Session, error) {
	gs, err := s.GetGenerationSettings(ctx)
	if err != nil {
		return nil, err
	}
	exists, err := s.rdb.Exists(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("refresh model settings: %w", err)
	}
	if exists == 0 {
		return nil, ErrSessionNotFound
	}
	err = s.rdb.HSet(ctx, sessionKey(id), map[string]interface{}{
		"model":       gs.Model,
		"temperature": strconv.FormatFloat(gs.Temperature, 'f', -1, 64),
	}).Err()
	if err != nil {
		return nil, fmt.Errorf("refresh model settings: %w", err)
	}
	return s.GetSession(ctx, id)
}

func (s *redisStore) AppendMessage(ctx context.Context, id string, m Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	// Every append slides the whole conversation's deadline: the session
	// hash and summary move with the message list, so an active session
	// never expires piecemeal underneath its own history.
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, messagesKey(id), raw)
	pipe.Expire(ctx, messagesKey(id), s.ttl)
	pipe.Expire(ctx, sessionKey(id), s.ttl)
	pipe.Expire(ctx, summaryKey(id), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *redisStore) RecentMessages(ctx context.Context, id string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	raws, err := s.rdb.LRange(ctx, messagesKey(id), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	out := make([]Message, 0, len(raws))
	for _, raw := range raws {
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			s.log.Warn("Skipping undecodable message entry", "session_id", id, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *redisStore) MessageCount(ctx context.Context, id string) (int64, error) {
	n, err := s.rdb.LLen(ctx, messagesKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("message count: %w", err)
	}
	return n, nil
}

func (s *redisStore) SetSummary(ctx context.Context, id, summary string) error {
	if err := s.rdb.Set(ctx, summaryKey(id), summary, s.ttl).Err(); err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return nil
}

func (s *redisStore) GetSummary(ctx context.Context, id string) (string, error) {
	v, err := s.rdb.Get(ctx, summaryKey(id)).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get summary: %w", err)
	}
	return v, nil
}

func (s *redisStore) GetGenerationSettings(ctx context.Context) (*GenerationSettings, error) {
	fields, err := s.rdb.HGetAll(ctx, settingsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("get generation settings: %w", err)
	}
	gs := &GenerationSettings{Model: s.defaultModel, Temperature: s.defaultTemp}
	if m := strings.TrimSpace(fields["model"]); m != "" {
		gs.Model = m
	}
	if t := strings.TrimSpace(fields["temperature"]); t != "" {
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			gs.Temperature = f
		}
	}
	return gs, nil
}

func (s *redisStore) GetCharacter(ctx context.Context, id string) (*CharacterProfile, error) {
	fields, err := s.rdb.HGetAll(ctx, "character:"+id).Result()
	if err != nil {
		return nil, fmt.Errorf("get character: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrCharacterNotFound
	}
	return &CharacterProfile{
		ID:          id,
		Name:        fields["name"],
		Prompt:      fields["prompt"],
		ScenePrompt: fields["scene_prompt"],
		OpeningLine: fields["opening_line"],
	}, nil
}

func (s *redisStore) SetGenerationSettings(ctx context.Context, gs *GenerationSettings) error {
	if gs == nil {
		return fmt.Errorf("settings required")
	}
	err := s.rdb.HSet(ctx, settingsKey, map[string]interface{}{
		"model":       gs.Model,
		"temperature": strconv.FormatFloat(gs.Temperature, 'f', -1, 64),
	}).Err()
	if err != nil {
		return fmt.Errorf("set generation settings: %w", err)
	}
	return nil
}
