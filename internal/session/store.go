// Package session keeps the authenticated session record encrypted in
// untrusted client storage. The decryption key never touches that storage;
// callers pass a Secret captured from the in-memory SecretHolder.
package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmcc-dao/backend/internal/apperr"
	"go.uber.org/zap"
)

// DefaultTTL is the lifetime embedded in every blob.
const DefaultTTL = 30 * 24 * time.Hour

var (
	ErrWalletChanged = apperr.New(apperr.KindUnauthorized, "WalletChanged", "session wallet cannot change; session destroyed")
	ErrInvalidPatch  = apperr.New(apperr.KindValidation, "InvalidSessionPatch", "session patch does not match the record shape")
)

type Store struct {
	storage Storage
	ttl     time.Duration
	now     func() time.Time
	log     *zap.Logger
}

func NewStore(storage Storage, ttl time.Duration, log *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{storage: storage, ttl: ttl, now: time.Now, log: log}
}

// Create overwrites whatever blob is stored with rec, expiring ttl from now.
func (s *Store) Create(rec *Record, secret Secret) error {
	if rec == nil {
		return apperr.New(apperr.KindValidation, "InvalidSession", "session record is nil")
	}
	blob, err := seal(rec, secret, s.now(), s.ttl)
	if err != nil {
		return err
	}
	if err := s.storage.Set(StorageKey, blob); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Read returns the stored record or nil. Absent, tampered, expired and
// wrong-key blobs all read as nil.
func (s *Store) Read(secret Secret) *Record {
	blob, ok, err := s.storage.Get(StorageKey)
	if err != nil {
		s.log.Debug("session storage read failed", zap.Error(err))
		return nil
	}
	if !ok || blob == "" {
		return nil
	}
	rec, err := open(blob, secret, s.now)
	if err != nil {
		s.log.Debug("session unreadable", zap.Error(err))
		return nil
	}
	return rec
}

// Update shallow-merges patch over the stored record and re-creates it.
// No stored record means no-op and a nil result. A patch that moves the
// record to another wallet destroys it and returns ErrWalletChanged.
func (s *Store) Update(patch Patch, secret Secret) (*Record, error) {
	cur := s.Read(secret)
	if cur == nil {
		return nil, nil
	}
	next, err := merge(cur, patch)
	if err != nil {
		return nil, err
	}
	if !SameWallet(cur.WalletAddress, next.WalletAddress) {
		if err := s.Destroy(); err != nil {
			return nil, err
		}
		return nil, ErrWalletChanged
	}
	if err := s.Create(next, secret); err != nil {
		return nil, err
	}
	return next, nil
}

// Destroy removes the blob. Idempotent.
func (s *Store) Destroy() error {
	if err := s.storage.Remove(StorageKey); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

func merge(cur *Record, patch Patch) (*Record, error) {
	if len(patch) == 0 {
		return cur.Clone(), nil
	}
	base, err := json.Marshal(cur)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	for k, v := range patch {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, apperr.Wrap(ErrInvalidPatch.Kind, ErrInvalidPatch.Code, "unencodable value for "+k, err)
		}
		fields[k] = raw
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	var next Record
	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		return nil, apperr.Wrap(ErrInvalidPatch.Kind, ErrInvalidPatch.Code, ErrInvalidPatch.Message, err)
	}
	return &next, nil
}
