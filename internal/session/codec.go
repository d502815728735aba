package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vmcc-dao/backend/internal/apperr"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const blobVersion = "v1"

var (
	ErrNoSecret   = apperr.New(apperr.KindConfiguration, "SessionSecretMissing", "session secret is not provisioned")
	ErrDecryption = apperr.New(apperr.KindDecryption, "SessionUnreadable", "session blob could not be decrypted")
)

type blobClaims struct {
	Session Record `json:"ses"`
	jwt.RegisteredClaims
}

type keys struct {
	enc []byte
	mac []byte
}

// deriveKeys splits the secret into an AEAD key and a token signing key.
func deriveKeys(s Secret) (keys, error) {
	if s.IsZero() {
		return keys{}, ErrNoSecret
	}
	enc := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.key, nil, []byte("vmcc-session-enc")), enc); err != nil {
		return keys{}, fmt.Errorf("derive enc key: %w", err)
	}
	mac := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.key, nil, []byte("vmcc-session-mac")), mac); err != nil {
		return keys{}, fmt.Errorf("derive mac key: %w", err)
	}
	return keys{enc: enc, mac: mac}, nil
}

// seal signs the record as a compact JWT carrying exp, then encrypts it with
// XChaCha20-Poly1305. Output: "v1." + base64url(nonce || ciphertext).
func seal(rec *Record, s Secret, issued time.Time, ttl time.Duration) (string, error) {
	k, err := deriveKeys(s)
	if err != nil {
		return "", err
	}

	claims := blobClaims{
		Session: *rec,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
	}
	compact, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.mac)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}

	aead, err := chacha20poly1305.NewX(k.enc)
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(compact)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(compact), []byte(blobVersion))
	return blobVersion + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// open reverses seal and enforces exp against now.
func open(blob string, s Secret, now func() time.Time) (*Record, error) {
	k, err := deriveKeys(s)
	if err != nil {
		return nil, err
	}

	version, body, ok := strings.Cut(blob, ".")
	if !ok || version != blobVersion {
		return nil, decryptionError(errors.New("unknown blob version"))
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, decryptionError(err)
	}

	aead, err := chacha20poly1305.NewX(k.enc)
	if err != nil {
		return nil, decryptionError(err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, decryptionError(errors.New("blob too short"))
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	compact, err := aead.Open(nil, nonce, ct, []byte(blobVersion))
	if err != nil {
		return nil, decryptionError(err)
	}

	var claims blobClaims
	_, err = jwt.ParseWithClaims(string(compact), &claims, func(t *jwt.Token) (interface{}, error) {
		return k.mac, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return nil, decryptionError(err)
	}
	rec := claims.Session
	return &rec, nil
}

func decryptionError(err error) error {
	return apperr.Wrap(ErrDecryption.Kind, ErrDecryption.Code, ErrDecryption.Message, err)
}
