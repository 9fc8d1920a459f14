// Package redis stores sessions, histories and reports in Redis so several
// API replicas can share journeys.
//
// Layout, under a configurable prefix:
//
//	{prefix}:session:{id}          JSON session
//	{prefix}:messages:{id}         list of JSON messages, in append order
//	{prefix}:user:{uid}:sessions   sorted set of session ids by creation time
//	{prefix}:journal:{entry}       JSON journal entry
//	{prefix}:user:{uid}:journal    sorted set of entry ids by creation time
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/PabloGalante/compass-agent/internal/domain"
)

const defaultPrefix = "compass"

// Config holds the connection and keyspace settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	Prefix string        // key prefix, default "compass"
	TTL    time.Duration // expiry of session and message keys, 0 = none
}

// Store implements domain.SessionStore, domain.MessageStore and
// domain.JournalStore.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewStore connects to Redis and checks the connection.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewStoreWithClient(rdb, cfg), nil
}

// NewStoreWithClient wraps an existing client. Connection fields of cfg are
// ignored.
func NewStoreWithClient(rdb redis.UniversalClient, cfg Config) *Store {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix, ttl: cfg.TTL}
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) sessionKey(id domain.SessionID) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

func (s *Store) messagesKey(id domain.SessionID) string {
	return fmt.Sprintf("%s:messages:%s", s.prefix, id)
}

func (s *Store) userSessionsKey(uid domain.UserID) string {
	return fmt.Sprintf("%s:user:%s:sessions", s.prefix, uid)
}

func (s *Store) journalKey(id domain.JournalEntryID) string {
	return fmt.Sprintf("%s:journal:%s", s.prefix, id)
}

func (s *Store) userJournalKey(uid domain.UserID) string {
	return fmt.Sprintf("%s:user:%s:journal", s.prefix, uid)
}

// ─────────────────────────────────────────
// SessionStore
// ─────────────────────────────────────────

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, s.sessionKey(session.ID), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis CreateSession: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionExists, session.ID)
	}

	err = s.rdb.ZAdd(ctx, s.userSessionsKey(session.UserID), redis.Z{
		Score:  float64(session.CreatedAt.UnixNano()),
		Member: string(session.ID),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis CreateSession index: %w", err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, session *domain.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ok, err := s.rdb.SetXX(ctx, s.sessionKey(session.ID), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis UpdateSession: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, session.ID)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	raw, err := s.rdb.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("redis GetSession: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, id domain.SessionID) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(id))
		pipe.ZRem(ctx, s.userSessionsKey(sess.UserID), string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis DeleteSession: %w", err)
	}
	return nil
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Session, error) {
	ids, err := s.rdb.ZRevRange(ctx, s.userSessionsKey(userID), 0, stop(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ListSessionsByUser: %w", err)
	}
	out := []*domain.Session{}
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(domain.SessionID(id))
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ListSessionsByUser: %w", err)
	}

	for _, v := range vals {
		// expired sessions leave a dangling index entry
		str, ok := v.(string)
		if !ok {
			continue
		}
		var sess domain.Session
		if err := json.Unmarshal([]byte(str), &sess); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, &sess)
	}
	return out, nil
}

// ─────────────────────────────────────────
// MessageStore
// ─────────────────────────────────────────

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	key := s.messagesKey(msg.SessionID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, raw)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis AppendMessage: %w", err)
	}
	return nil
}

func (s *Store) GetMessagesBySession(ctx context.Context, sessionID domain.SessionID) ([]*domain.Message, error) {
	items, err := s.rdb.LRange(ctx, s.messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis GetMessagesBySession: %w", err)
	}

	out := make([]*domain.Message, 0, len(items))
	for _, item := range items {
		var m domain.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, &m)
	}
	slices.SortStableFunc(out, func(a, b *domain.Message) int { return a.Seq - b.Seq })
	return out, nil
}

func (s *Store) DeleteMessagesBySession(ctx context.Context, sessionID domain.SessionID) error {
	if err := s.rdb.Del(ctx, s.messagesKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis DeleteMessagesBySession: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────
// JournalStore
// ─────────────────────────────────────────

func (s *Store) AppendJournalEntry(ctx context.Context, entry *domain.JournalEntry) error {
	if entry.ID == "" {
		entry.ID = domain.JournalEntryID(uuid.NewString())
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.journalKey(entry.ID), raw, 0)
		pipe.ZAdd(ctx, s.userJournalKey(entry.UserID), redis.Z{
			Score:  float64(entry.CreatedAt.UnixNano()),
			Member: string(entry.ID),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis AppendJournalEntry: %w", err)
	}
	return nil
}

func (s *Store) ListJournalEntriesByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.JournalEntry, error) {
	ids, err := s.rdb.ZRevRange(ctx, s.userJournalKey(userID), 0, stop(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ListJournalEntriesByUser: %w", err)
	}
	out := []*domain.JournalEntry{}
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.journalKey(domain.JournalEntryID(id))
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ListJournalEntriesByUser: %w", err)
	}

	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var e domain.JournalEntry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

// stop converts a result limit to an inclusive range end.
func stop(limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(limit) - 1
}
