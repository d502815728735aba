package session

import (
	"context"
	"sync"
	"time"

	"github.com/vmcc-dao/backend/internal/apperr"
	"go.uber.org/zap"
)

var ErrSuperseded = apperr.New(apperr.KindConflict, "UpdateSuperseded", "session update superseded by a newer one")

// Txn is an optimistic local write: snapshot, apply, then commit or roll back
// once the remote side answers.
type Txn struct {
	store    *Store
	secret   Secret
	snapshot *Record
	applied  *Record
	done     bool
}

// Begin snapshots the current record. A nil snapshot means there is nothing
// to update; Apply will then be a no-op.
func (s *Store) Begin(secret Secret) *Txn {
	return &Txn{store: s, secret: secret, snapshot: s.Read(secret)}
}

// beginFrom starts a txn whose rollback target is base rather than what is
// stored now.
func (s *Store) beginFrom(secret Secret, base *Record) *Txn {
	return &Txn{store: s, secret: secret, snapshot: base.Clone()}
}

func (t *Txn) Snapshot() *Record { return t.snapshot.Clone() }

func (t *Txn) Apply(patch Patch) (*Record, error) {
	if t.snapshot == nil {
		return nil, nil
	}
	rec, err := t.store.Update(patch, t.secret)
	if err != nil {
		t.done = true
		return nil, err
	}
	t.applied = rec
	return rec.Clone(), nil
}

// Commit keeps the optimistic write.
func (t *Txn) Commit() { t.done = true }

// Rollback restores the snapshot if the optimistic write went through.
func (t *Txn) Rollback() error {
	if t.done || t.applied == nil {
		t.done = true
		return nil
	}
	t.done = true
	return t.store.Create(t.snapshot, t.secret)
}

// PersistFunc pushes an optimistically applied record to the remote side.
type PersistFunc func(ctx context.Context, rec *Record) error

// Updater serializes session updates. A newer Do cancels the context of the
// one in flight, and the older call's outcome is dropped instead of being
// written back. The older call's optimistic patch rides along in the newer
// persist; if that persist fails, both are rolled back to the last committed
// record.
type Updater struct {
	store *Store
	log   *zap.Logger
	now   func() time.Time

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	// base is the last committed record while an update is in flight.
	base *Record
}

func NewUpdater(store *Store, log *zap.Logger) *Updater {
	return &Updater{store: store, log: log, now: time.Now}
}

// Do applies patch locally, stamps updatedAt, then runs persist (nil means
// local only). Persist failure rolls the local write back to the last
// committed record unless a newer update already landed on top of it.
func (u *Updater) Do(ctx context.Context, secret Secret, patch Patch, persist PersistFunc) (*Record, error) {
	u.mu.Lock()
	if u.cancel != nil {
		u.cancel()
	}
	u.gen++
	gen := u.gen
	ctx, cancel := context.WithCancel(ctx)
	u.cancel = cancel

	stamped := make(Patch, len(patch)+1)
	for k, v := range patch {
		stamped[k] = v
	}
	stamped[FieldUpdatedAt] = Timestamp(u.now())

	var txn *Txn
	if u.base != nil {
		txn = u.store.beginFrom(secret, u.base)
	} else {
		txn = u.store.Begin(secret)
	}
	rec, err := txn.Apply(stamped)
	if err != nil || rec == nil {
		u.base = nil
		u.cancel = nil
		u.mu.Unlock()
		cancel()
		return rec, err
	}
	u.base = txn.snapshot
	u.mu.Unlock()
	defer cancel()

	var perr error
	if persist != nil {
		perr = persist(ctx, rec.Clone())
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if gen != u.gen {
		u.log.Debug("session update superseded", zap.Uint64("generation", gen))
		return nil, ErrSuperseded
	}
	u.cancel = nil
	u.base = nil
	if perr != nil {
		if rbErr := txn.Rollback(); rbErr != nil {
			u.log.Warn("session rollback failed", zap.Error(rbErr))
		}
		return nil, perr
	}
	txn.Commit()
	return rec, nil
}
