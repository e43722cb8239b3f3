// Package redisstore is an agentsy.SessionStore keeping sessions in Redis, so that several
// agentchat processes can share them.
//
// Keys, under a configurable prefix (default "agentsy"):
//
//	<prefix>:sessions            sorted set of session ids scored by creation time (µs)
//	<prefix>:active              id of the active session
//	<prefix>:messages:<id>       list of JSON-encoded messages
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/skosovsky/agentsy"
)

// DefaultPrefix prefixes every key unless WithPrefix says otherwise.
const DefaultPrefix = "agentsy"

// Store keeps sessions in Redis. There is always at least one session, exactly one of
// which is active.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	owned  bool
	now    func() time.Time
}

var _ agentsy.SessionStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// Open connects to the server at url (redis://[user:password@]host:port/db) and makes sure
// a session is active. Close disconnects.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	s, err := New(ctx, rdb, opts...)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New returns a Store on an existing client and makes sure a session is active. Close
// leaves the client open.
func New(ctx context.Context, rdb redis.UniversalClient, opts ...Option) (*Store, error) {
	s := &Store{rdb: rdb, prefix: DefaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if _, err := s.activeID(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close disconnects the client if Open created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) sessionsKey() string          { return s.prefix + ":sessions" }
func (s *Store) activeKey() string            { return s.prefix + ":active" }
func (s *Store) messagesKey(id string) string { return s.prefix + ":messages:" + id }

// AppendMessage implements agentsy.Store.
func (s *Store) AppendMessage(ctx context.Context, m agentsy.Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	id, err := s.activeID(ctx)
	if err != nil {
		return err
	}
	if err := s.rdb.RPush(ctx, s.messagesKey(id), body).Err(); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ActiveSession implements agentsy.Store.
func (s *Store) ActiveSession(ctx context.Context) (agentsy.SessionRecord, error) {
	id, err := s.activeID(ctx)
	if err != nil {
		return agentsy.SessionRecord{}, err
	}
	return s.load(ctx, id)
}

// CreateSession adds an empty session and makes it active.
func (s *Store) CreateSession(ctx context.Context) (agentsy.SessionRecord, error) {
	rec := agentsy.SessionRecord{ID: uuid.NewString(), CreatedAt: time.UnixMicro(s.now().UnixMicro())}
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, s.sessionsKey(), redis.Z{Score: float64(rec.CreatedAt.UnixMicro()), Member: rec.ID})
		p.Set(ctx, s.activeKey(), rec.ID, 0)
		return nil
	})
	if err != nil {
		return agentsy.SessionRecord{}, fmt.Errorf("create session: %w", err)
	}
	return rec, nil
}

// SwitchSession makes the session with id active. Unknown ids return
// agentsy.ErrSessionNotFound.
func (s *Store) SwitchSession(ctx context.Context, id string) (agentsy.SessionRecord, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return rec, err
	}
	if err := s.rdb.Set(ctx, s.activeKey(), id, 0).Err(); err != nil {
		return agentsy.SessionRecord{}, fmt.Errorf("switch session: %w", err)
	}
	return rec, nil
}

// DeleteSession removes the session with id and its messages. Deleting the active session
// activates the newest remaining one; deleting the last session leaves a fresh empty one.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	var removed *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.ZRem(ctx, s.sessionsKey(), id)
		p.Del(ctx, s.messagesKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if removed.Val() == 0 {
		return agentsy.ErrSessionNotFound
	}
	_, err = s.activeID(ctx)
	return err
}

// Sessions returns every session with its messages, newest first.
func (s *Store) Sessions(ctx context.Context) ([]agentsy.SessionRecord, error) {
	entries, err := s.rdb.ZRevRangeWithScores(ctx, s.sessionsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	lists := make([]*redis.StringSliceCmd, len(entries))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, z := range entries {
			lists[i] = p.LRange(ctx, s.messagesKey(z.Member.(string)), 0, -1)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]agentsy.SessionRecord, 0, len(entries))
	for i, z := range entries {
		rec, err := record(z, lists[i].Val())
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// activeID returns the active session id, activating the newest session (or a new one)
// when the pointer is missing or stale.
func (s *Store) activeID(ctx context.Context) (string, error) {
	id, err := s.rdb.Get(ctx, s.activeKey()).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return "", fmt.Errorf("find active session: %w", err)
	default:
		err := s.rdb.ZScore(ctx, s.sessionsKey(), id).Err()
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("find active session: %w", err)
		}
	}

	newest, err := s.rdb.ZRevRange(ctx, s.sessionsKey(), 0, 0).Result()
	if err != nil {
		return "", fmt.Errorf("find newest session: %w", err)
	}
	if len(newest) == 0 {
		rec, err := s.CreateSession(ctx)
		return rec.ID, err
	}
	if err := s.rdb.Set(ctx, s.activeKey(), newest[0], 0).Err(); err != nil {
		return "", fmt.Errorf("activate session: %w", err)
	}
	return newest[0], nil
}

func (s *Store) load(ctx context.Context, id string) (agentsy.SessionRecord, error) {
	score, err := s.rdb.ZScore(ctx, s.sessionsKey(), id).Result()
	if errors.Is(err, redis.Nil) {
		return agentsy.SessionRecord{ID: id}, agentsy.ErrSessionNotFound
	}
	if err != nil {
		return agentsy.SessionRecord{ID: id}, fmt.Errorf("load session %s: %w", id, err)
	}
	bodies, err := s.rdb.LRange(ctx, s.messagesKey(id), 0, -1).Result()
	if err != nil {
		return agentsy.SessionRecord{ID: id}, fmt.Errorf("load messages of %s: %w", id, err)
	}
	return record(redis.Z{Score: score, Member: id}, bodies)
}

func record(z redis.Z, bodies []string) (agentsy.SessionRecord, error) {
	id, _ := z.Member.(string)
	rec := agentsy.SessionRecord{ID: id, CreatedAt: time.UnixMicro(int64(z.Score))}
	for _, body := range bodies {
		var m agentsy.Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return rec, fmt.Errorf("decode message of %s: %w", id, err)
		}
		rec.Messages = append(rec.Messages, m)
	}
	return rec, nil
}
