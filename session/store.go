// Package session keeps the credential and board selection between runs.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	KeyToken    = "token"
	KeyUsername = "username"
	KeyBoard    = "board"
)

var allKeys = []string{KeyToken, KeyUsername, KeyBoard}

// ErrTokenExpired is returned when saving a token whose exp claim has passed.
var ErrTokenExpired = errors.New("token expired")

// Store is a key-value store scoped to one profile.
type Store struct {
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

// NewStore creates a Store for profile backed by rc.
func NewStore(rc *redis.Client, profile string) *Store {
	if profile == "" {
		profile = "default"
	}
	return &Store{redis: rc, prefix: "boardsync:" + profile + ":", now: time.Now}
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Get returns the value under key and whether it was present.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.redis.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores value under key. A zero ttl keeps it until cleared.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.redis.Set(ctx, s.key(key), value, ttl).Err()
}

// Clear removes the given keys, or every session key when none are given.
func (s *Store) Clear(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		keys = allKeys
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return s.redis.Del(ctx, full...).Err()
}

// SaveToken stores token until its exp claim, if it carries one.
func (s *Store) SaveToken(ctx context.Context, token string) error {
	claims, err := Inspect(token)
	if err != nil {
		return err
	}
	var ttl time.Duration
	if !claims.ExpiresAt.IsZero() {
		ttl = claims.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return ErrTokenExpired
		}
	}
	return s.Set(ctx, KeyToken, token, ttl)
}

// Token returns the stored credential. Expired or unreadable tokens are
// cleared and reported as absent.
func (s *Store) Token(ctx context.Context) (string, bool, error) {
	tok, ok, err := s.Get(ctx, KeyToken)
	if err != nil || !ok {
		return "", false, err
	}
	claims, err := Inspect(tok)
	if err != nil || claims.Expired(s.now()) {
		log.WithError(err).Info("dropping stored token")
		if err := s.Clear(ctx, KeyToken); err != nil {
			return "", false, err
		}
		return "", false, nil
	}
	return tok, true, nil
}
