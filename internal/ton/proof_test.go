package ton

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xssnick/tonutils-go/address"
)

const testRaw = "0:000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func testAddr(t *testing.T) *address.Address {
	t.Helper()
	a, err := ParseAddress(testRaw)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

// helper: подписывает proof валидной подписью
func signedProof(t *testing.T, now time.Time, payload string) (string, Proof, ed25519.PrivateKey) {
	t.Helper()
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	proof := Proof{
		Timestamp: now.Unix(),
		Domain:    ProofDomain{LengthBytes: len("test.example.com"), Value: "test.example.com"},
		Payload:   payload,
	}
	proof.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(privKey, SignatureHash(testAddr(t), proof)))
	return hex.EncodeToString(pubKey), proof, privKey
}

func TestVerifyProof_ValidSignature(t *testing.T) {
	now := time.Now()
	pub, proof, _ := signedProof(t, now, "test-nonce-12345")

	if err := VerifyProof(pub, testAddr(t), proof, []string{"test.example.com"}, now); err != nil {
		t.Fatalf("expected valid proof, got error: %v", err)
	}
}

func TestVerifyProof_HexSignature(t *testing.T) {
	now := time.Now()
	pub, proof, priv := signedProof(t, now, "nonce")
	proof.Signature = hex.EncodeToString(ed25519.Sign(priv, SignatureHash(testAddr(t), proof)))

	if err := VerifyProof(pub, testAddr(t), proof, nil, now); err != nil {
		t.Fatalf("expected hex signature to verify, got: %v", err)
	}
}

func TestVerifyProof_ExpiredTimestamp(t *testing.T) {
	now := time.Now()
	pub, proof, _ := signedProof(t, now.Add(-10*time.Minute), "nonce")

	err := VerifyProof(pub, testAddr(t), proof, nil, now)
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expired error, got: %v", err)
	}
}

func TestVerifyProof_FutureTimestamp(t *testing.T) {
	now := time.Now()
	pub, proof, _ := signedProof(t, now.Add(5*time.Minute), "nonce")

	err := VerifyProof(pub, testAddr(t), proof, nil, now)
	if err == nil || !strings.Contains(err.Error(), "future") {
		t.Fatalf("expected future error, got: %v", err)
	}
}

func TestVerifyProof_DomainNotAllowed(t *testing.T) {
	now := time.Now()
	pub, proof, _ := signedProof(t, now, "nonce")

	err := VerifyProof(pub, testAddr(t), proof, []string{"allowed.com"}, now)
	if err == nil || !strings.Contains(err.Error(), "not in allowed list") {
		t.Fatalf("expected domain error, got: %v", err)
	}
}

func TestVerifyProof_WrongAddress(t *testing.T) {
	now := time.Now()
	pub, proof, _ := signedProof(t, now, "nonce")

	other, err := ParseAddress("0:" + strings.Repeat("ff", 32))
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyProof(pub, other, proof, nil, now); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof, got: %v", err)
	}
}

func TestVerifyWalletProof(t *testing.T) {
	now := time.Now()
	pub, proof, _ := signedProof(t, now, "challenge-1")

	friendly := testAddr(t).String()
	tests := []struct {
		name     string
		addr     string
		expected string
		wantErr  error
	}{
		{"raw address", testRaw, "challenge-1", nil},
		{"friendly address", friendly, "challenge-1", nil},
		{"payload mismatch", testRaw, "challenge-2", ErrPayloadMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ProofData{Address: tt.addr, PublicKey: pub, Proof: proof}
			got, err := VerifyWalletProof(p, tt.expected, nil, now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if RawForm(got) != testRaw {
				t.Errorf("RawForm = %s", RawForm(got))
			}
		})
	}
}

func TestParseAddress_Invalid(t *testing.T) {
	for _, s := range []string{"", "0:zz", "not-an-address"} {
		if IsAddress(s) {
			t.Errorf("IsAddress(%q) = true", s)
		}
	}
}

func TestIsDomainAllowed(t *testing.T) {
	tests := []struct {
		domain  string
		allowed []string
		want    bool
	}{
		{"example.com", []string{"example.com"}, true},
		{"evil.com", []string{"example.com"}, false},
		{"anything.com", nil, true},
		{"anything.com", []string{}, true},
	}

	for _, tt := range tests {
		got := isDomainAllowed(tt.domain, tt.allowed)
		if got != tt.want {
			t.Errorf("isDomainAllowed(%q, %v) = %v, want %v", tt.domain, tt.allowed, got, tt.want)
		}
	}
}

func TestNetworkID(t *testing.T) {
	tests := map[string]string{
		"mainnet":  NetworkMainnet,
		" Testnet": NetworkTestnet,
		"-239":     "-239",
		"":         "",
	}
	for in, want := range tests {
		if got := NetworkID(in); got != want {
			t.Errorf("NetworkID(%q) = %q, want %q", in, got, want)
		}
	}
}
