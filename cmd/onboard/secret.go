package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	secretEnv     = "VMCC_SESSION_SECRET"
	secretFile    = "session.key"
	secretDirName = "vmcc"
)

var errKeyInStorage = errors.New("session key directory must be outside the session directory")

// defaultKeyDir is the per-user config directory. Empty when the OS has none;
// then the key has to come from the environment.
func defaultKeyDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, secretDirName)
}

// loadSecret returns the session key: hex from the environment, else the
// key file under keyDir, generated on first use. keyDir may not be the
// session storage directory or anything inside it.
func loadSecret(keyDir, storageDir string) ([]byte, error) {
	if v := strings.TrimSpace(os.Getenv(secretEnv)); v != "" {
		raw, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", secretEnv, err)
		}
		if len(raw) < 16 {
			return nil, fmt.Errorf("%s: need at least 16 bytes", secretEnv)
		}
		return raw, nil
	}

	if keyDir == "" {
		return nil, fmt.Errorf("no key directory: set %s or -key-dir", secretEnv)
	}
	inside, err := within(keyDir, storageDir)
	if err != nil {
		return nil, err
	}
	if inside {
		return nil, errKeyInStorage
	}

	path := filepath.Join(keyDir, secretFile)
	data, err := os.ReadFile(path)
	if err == nil {
		raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return raw, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(raw)), 0o600); err != nil {
		return nil, err
	}
	return raw, nil
}

// within reports whether dir is root or below it.
func within(dir, root string) (bool, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil {
		return false, nil
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))), nil
}
