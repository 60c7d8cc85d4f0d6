package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned for unknown, revoked or expired sessions
var ErrSessionNotFound = errors.New("session not found")

// Session is a live login. It is registered on login and removed on logout.
type Session struct {
	ID        string
	UserID    uuid.UUID
	ExpiresAt time.Time
}

// SessionStore registers live sessions
type SessionStore interface {
	Save(ctx context.Context, session Session) error
	// Lookup returns the user that owns the session
	Lookup(ctx context.Context, id string) (uuid.UUID, error)
	Revoke(ctx context.Context, id string) error
	// RevokeUser ends every session of a user except the one named by except, which may be empty
	RevokeUser(ctx context.Context, userID uuid.UUID, except string) error
}

// MemorySessionStore keeps sessions in process memory. Sessions do not survive a restart
// and are not shared between replicas.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session), now: time.Now}
}

func (s *MemorySessionStore) Save(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *MemorySessionStore) Lookup(_ context.Context, id string) (uuid.UUID, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return uuid.Nil, ErrSessionNotFound
	}
	if !s.now().Before(session.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return uuid.Nil, ErrSessionNotFound
	}
	return session.UserID, nil
}

func (s *MemorySessionStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemorySessionStore) RevokeUser(_ context.Context, userID uuid.UUID, except string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.sessions {
		if session.UserID == userID && id != except {
			delete(s.sessions, id)
		}
	}
	return nil
}

// RedisSessionStore keeps sessions in redis with the token lifetime as key TTL. Each
// user also has a set of their session ids so all of them can be revoked at once.
type RedisSessionStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisSessionStore(rdb *redis.Client, prefix string) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb, prefix: prefix}
}

func (s *RedisSessionStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisSessionStore) userKey(userID uuid.UUID) string {
	return s.prefix + "user:" + userID.String()
}

func (s *RedisSessionStore) Save(ctx context.Context, session Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", session.ID)
	}
	userKey := s.userKey(session.UserID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(session.ID), session.UserID.String(), ttl)
		pipe.SAdd(ctx, userKey, session.ID)
		// sessions share one lifetime, so the newest session always outlives the index
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Lookup(ctx context.Context, id string) (uuid.UUID, error) {
	value, err := s.rdb.Get(ctx, s.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrSessionNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to read session: %w", err)
	}
	userID, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	return userID, nil
}

func (s *RedisSessionStore) Revoke(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.key(id)).Err()
}

func (s *RedisSessionStore) RevokeUser(ctx context.Context, userID uuid.UUID, except string) error {
	userKey := s.userKey(userID)
	ids, err := s.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			if id == except {
				continue
			}
			pipe.Del(ctx, s.key(id))
			pipe.SRem(ctx, userKey, id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return nil
}
