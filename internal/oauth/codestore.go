package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeStore is the replay guard for authorization codes.
// Reserve is an atomic check-and-set: it returns true only for the first caller.
type CodeStore interface {
	Used(ctx context.Context, code string) (bool, error)
	Reserve(ctx context.Context, code string, ttl time.Duration) (bool, error)
}

// MemoryCodeStore keeps used codes in process memory. Single instance only.
type MemoryCodeStore struct {
	mu    sync.Mutex
	codes map[string]time.Time // code -> expires at
	now   func() time.Time
}

func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{codes: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryCodeStore) Used(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.codes[code]
	return ok && s.now().Before(exp), nil
}

func (s *MemoryCodeStore) Reserve(_ context.Context, code string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now()
	if exp, ok := s.codes[code]; ok && t.Before(exp) {
		return false, nil
	}
	s.codes[code] = t.Add(ttl)
	return true, nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryCodeStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now()
	n := 0
	for code, exp := range s.codes {
		if !t.Before(exp) {
			delete(s.codes, code)
			n++
		}
	}
	return n
}

// StartSweeper runs Sweep every interval until ctx is done.
func (s *MemoryCodeStore) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

const redisCodePrefix = "oauth:code:"

// RedisCodeStore shares the used-code set across API instances.
type RedisCodeStore struct {
	client *redis.Client
}

func NewRedisCodeStore(client *redis.Client) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

func (s *RedisCodeStore) Used(ctx context.Context, code string) (bool, error) {
	n, err := s.client.Exists(ctx, codeKey(code)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisCodeStore) Reserve(ctx context.Context, code string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, codeKey(code), 1, ttl).Result()
}

// codeKey hashes the code so raw authorization codes never sit in redis.
func codeKey(code string) string {
	sum := sha256.Sum256([]byte(code))
	return redisCodePrefix + hex.EncodeToString(sum[:])
}
