package services

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// FingerprintTracker counts distinct wallets seen behind one client fingerprint.
type FingerprintTracker interface {
	// Track records wallet under fingerprint and returns the number of
	// distinct wallets seen for it.
	Track(ctx context.Context, fingerprint, wallet string) (int64, error)
}

const (
	fingerprintPrefix = "fp:wallets:"
	fingerprintTTL    = 30 * 24 * time.Hour
)

type RedisFingerprintTracker struct {
	rdb *redis.Client
}

func NewRedisFingerprintTracker(rdb *redis.Client) *RedisFingerprintTracker {
	return &RedisFingerprintTracker{rdb: rdb}
}

func (t *RedisFingerprintTracker) Track(ctx context.Context, fingerprint, wallet string) (int64, error) {
	key := fingerprintPrefix + fingerprint
	pipe := t.rdb.TxPipeline()
	pipe.SAdd(ctx, key, wallet)
	pipe.Expire(ctx, key, fingerprintTTL)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return card.Val(), nil
}

type MemoryFingerprintTracker struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

func NewMemoryFingerprintTracker() *MemoryFingerprintTracker {
	return &MemoryFingerprintTracker{seen: make(map[string]map[string]struct{})}
}

func (t *MemoryFingerprintTracker) Track(_ context.Context, fingerprint, wallet string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.seen[fingerprint]
	if !ok {
		set = make(map[string]struct{})
		t.seen[fingerprint] = set
	}
	set[wallet] = struct{}{}
	return int64(len(set)), nil
}
