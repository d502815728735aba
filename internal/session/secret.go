package session

import "sync"

// Secret is the per-session key material. It is a value: operations capture
// it once up front, so a later Clear on the holder cannot pull it out from
// under a running step.
type Secret struct {
	key []byte
}

func NewSecret(raw []byte) Secret {
	k := make([]byte, len(raw))
	copy(k, raw)
	return Secret{key: k}
}

func (s Secret) IsZero() bool { return len(s.key) == 0 }

// SecretHolder is the read side of the in-memory secret.
type SecretHolder struct {
	mu  sync.RWMutex
	cur Secret
}

// SecretWriter is the only handle that can change the secret. It is handed to
// the provisioning boundary; everything else gets the *SecretHolder.
type SecretWriter struct {
	h *SecretHolder
}

func NewSecretHolder() (*SecretHolder, *SecretWriter) {
	h := &SecretHolder{}
	return h, &SecretWriter{h: h}
}

// Capture returns a copy of the current secret.
func (h *SecretHolder) Capture() (Secret, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cur.IsZero() {
		return Secret{}, false
	}
	return NewSecret(h.cur.key), true
}

func (w *SecretWriter) Provision(raw []byte) {
	s := NewSecret(raw)
	w.h.mu.Lock()
	w.h.cur = s
	w.h.mu.Unlock()
}

// Clear drops the secret. Values captured earlier are unaffected.
func (w *SecretWriter) Clear() {
	w.h.mu.Lock()
	w.h.cur = Secret{}
	w.h.mu.Unlock()
}
