package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmcc-dao/backend/internal/models"
)

// In-memory implementations for tests and STORAGE_BACKEND=memory local runs.

type MemoryUserRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*models.User
	nextRef int64
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{byID: make(map[uuid.UUID]*models.User)}
}

func (m *MemoryUserRepo) UpsertByWallet(_ context.Context, wallet, kind string, meta models.ClientMeta) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, u := range m.byID {
		if u.WalletAddress == wallet {
			if meta.Fingerprint != "" {
				u.Fingerprint = meta.Fingerprint
			}
			if meta.IP != "" {
				u.LastIP = meta.IP
			}
			if meta.UserAgent != "" {
				u.UserAgent = meta.UserAgent
			}
			u.LastActiveAt = now
			c := *u
			return &c, nil
		}
	}
	m.nextRef++
	u := &models.User{
		ID:            uuid.New(),
		WalletAddress: wallet,
		WalletKind:    kind,
		ReferralID:    m.nextRef,
		Fingerprint:   meta.Fingerprint,
		LastIP:        meta.IP,
		UserAgent:     meta.UserAgent,
		CreatedAt:     now,
		LastActiveAt:  now,
	}
	m.byID[u.ID] = u
	c := *u
	return &c, nil
}

func (m *MemoryUserRepo) find(match func(u *models.User) bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryUserRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.ID == id })
}

func (m *MemoryUserRepo) GetByWallet(_ context.Context, wallet string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.WalletAddress == wallet })
}

func (m *MemoryUserRepo) GetByReferralID(_ context.Context, referralID int64) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.ReferralID == referralID })
}

func (m *MemoryUserRepo) update(id uuid.UUID, fn func(u *models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	return nil
}

func (m *MemoryUserRepo) SetTelegram(_ context.Context, id uuid.UUID, telegramID int64, username string, joined bool) error {
	return m.update(id, func(u *models.User) {
		u.TelegramID = &telegramID
		if username != "" {
			u.TelegramUsername = &username
		}
		u.TelegramJoined = joined
	})
}

func (m *MemoryUserRepo) SetTwitterAccount(_ context.Context, id uuid.UUID, twitterID, username string) error {
	return m.update(id, func(u *models.User) {
		u.TwitterID = &twitterID
		u.TwitterUsername = &username
	})
}

func (m *MemoryUserRepo) SetTwitterFollowed(_ context.Context, id uuid.UUID, postLink string) error {
	return m.update(id, func(u *models.User) {
		u.TwitterFollowed = true
		u.TwitterPostLink = &postLink
	})
}

func (m *MemoryUserRepo) SetInstagram(_ context.Context, id uuid.UUID, username string) error {
	return m.update(id, func(u *models.User) {
		u.InstagramUsername = &username
		u.InstagramFollowed = true
	})
}

func (m *MemoryUserRepo) SetUpline(_ context.Context, id uuid.UUID, uplineID int64) (bool, error) {
	set := false
	err := m.update(id, func(u *models.User) {
		if u.UplineID == nil {
			u.UplineID = &uplineID
			set = true
		}
	})
	return set, err
}

func (m *MemoryUserRepo) ApplyChainFacts(_ context.Context, id uuid.UUID, facts models.ChainFacts) error {
	return m.update(id, func(u *models.User) {
		u.GenesisClaimed = facts.GenesisClaimed
		if facts.UplineID != nil {
			u.UplineID = facts.UplineID
		}
	})
}

func (m *MemoryUserRepo) SetFlagged(_ context.Context, id uuid.UUID) error {
	return m.update(id, func(u *models.User) { u.Flagged = true })
}

func (m *MemoryUserRepo) UpdateLastActive(_ context.Context, id uuid.UUID) error {
	return m.update(id, func(u *models.User) { u.LastActiveAt = time.Now() })
}

func (m *MemoryUserRepo) ListUnclaimed(_ context.Context, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.byID {
		if !u.GenesisClaimed && u.WalletKind == models.WalletKindEVM {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.Before(out[j].LastActiveAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type MemoryChallengeRepo struct {
	mu   sync.Mutex
	list []*models.AuthChallenge
	now  func() time.Time
}

func NewMemoryChallengeRepo() *MemoryChallengeRepo {
	return &MemoryChallengeRepo{now: time.Now}
}

func (m *MemoryChallengeRepo) Create(_ context.Context, c *models.AuthChallenge, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = m.now()
	c.ExpiresAt = c.CreatedAt.Add(ttl)
	cp := *c
	m.list = append(m.list, &cp)
	return nil
}

func (m *MemoryChallengeRepo) ConsumeLatest(_ context.Context, wallet string) (*models.AuthChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for i := len(m.list) - 1; i >= 0; i-- {
		c := m.list[i]
		if c.WalletAddress == wallet && !c.Used && !c.Expired(now) {
			c.Used = true
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryChallengeRepo) DeleteExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var kept []*models.AuthChallenge
	var n int64
	for _, c := range m.list {
		if c.Used || c.Expired(now) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	m.list = kept
	return n, nil
}

type MemoryAuditRepo struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func NewMemoryAuditRepo() *MemoryAuditRepo {
	return &MemoryAuditRepo{}
}

func (m *MemoryAuditRepo) Log(_ context.Context, e models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryAuditRepo) GetByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditLog
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.EntityType == "user" && e.EntityID != nil && *e.EntityID == userID {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Actions lists every logged action in order.
func (m *MemoryAuditRepo) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}
