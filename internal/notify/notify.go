// Package notify keeps one status notification per flow key. A new status for
// a key replaces the previous one instead of stacking next to it.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Status string

const (
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusInfo    Status = "info"
)

// Flow keys
const (
	KeySignIn   = "sign-in"
	KeyOAuth    = "oauth-x"
	KeyTelegram = "telegram"
	KeyReferral = "referral"
	KeyClaim    = "claim"
	KeySignOut  = "sign-out"
)

type Notification struct {
	Key     string    `json:"key"`
	Status  Status    `json:"status"`
	Message string    `json:"message"`
	Seq     uint64    `json:"seq"` // bumps on every replace
	At      time.Time `json:"at"`
}

// Sink receives every replacement.
type Sink interface {
	Show(n Notification)
}

type SinkFunc func(n Notification)

func (f SinkFunc) Show(n Notification) { f(n) }

type Notifier struct {
	mu      sync.Mutex
	current map[string]Notification
	sink    Sink
	log     *zap.Logger
	now     func() time.Time
}

func New(sink Sink, log *zap.Logger) *Notifier {
	return &Notifier{current: make(map[string]Notification), sink: sink, log: log, now: time.Now}
}

func (n *Notifier) Loading(key, msg string) { n.set(key, StatusLoading, msg) }
func (n *Notifier) Success(key, msg string) { n.set(key, StatusSuccess, msg) }
func (n *Notifier) Info(key, msg string)    { n.set(key, StatusInfo, msg) }

func (n *Notifier) Error(key string, err error) {
	n.set(key, StatusError, err.Error())
}

func (n *Notifier) set(key string, st Status, msg string) {
	n.mu.Lock()
	prev := n.current[key]
	cur := Notification{Key: key, Status: st, Message: msg, Seq: prev.Seq + 1, At: n.now()}
	n.current[key] = cur
	n.mu.Unlock()

	n.log.Debug("notification",
		zap.String("key", key),
		zap.String("status", string(st)),
		zap.String("message", msg),
	)
	if n.sink != nil {
		n.sink.Show(cur)
	}
}

// Get returns the live notification for key.
func (n *Notifier) Get(key string) (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.current[key]
	return v, ok
}

// Dismiss drops key.
func (n *Notifier) Dismiss(key string) {
	n.mu.Lock()
	delete(n.current, key)
	n.mu.Unlock()
}

// Active returns how many keys currently hold a notification.
func (n *Notifier) Active() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.current)
}
