package ton

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xssnick/tonutils-go/address"
)

const (
	// TonProofPrefix: фиксированный префикс TON Proof из TON Connect.
	// https://docs.ton.org/develop/dapps/ton-connect/sign#checking-ton_proof-on-server-side
	TonProofPrefix = "ton-proof-item-v2/"

	// TonConnectPrefix: префикс перед SHA256 хешем сообщения.
	TonConnectPrefix = "ton-connect"

	// MaxProofAge: максимальный возраст proof (защита от replay).
	MaxProofAge = 5 * time.Minute
)

var (
	ErrPayloadMismatch = errors.New("proof payload does not match the issued challenge")
	ErrInvalidProof    = errors.New("invalid signature")
)

// ProofData содержит данные из TON Connect ton_proof.
type ProofData struct {
	Address   string `json:"address"`   // raw "0:<hex>" или user-friendly
	Network   string `json:"network"`   // "-239" = mainnet, "-3" = testnet
	PublicKey string `json:"publicKey"` // hex
	Proof     Proof  `json:"proof"`
}

type Proof struct {
	Timestamp int64       `json:"timestamp"`
	Domain    ProofDomain `json:"domain"`
	Payload   string      `json:"payload"`   // наш nonce
	Signature string      `json:"signature"` // base64 (TON Connect) или hex
}

type ProofDomain struct {
	LengthBytes int    `json:"lengthBytes"`
	Value       string `json:"value"`
}

// VerifyWalletProof checks a complete ton_proof: address, payload binding,
// freshness, domain and signature.
func VerifyWalletProof(p ProofData, expectedPayload string, allowedDomains []string, now time.Time) (*address.Address, error) {
	addr, err := ParseAddress(p.Address)
	if err != nil {
		return nil, err
	}
	if p.Proof.Payload != expectedPayload {
		return nil, ErrPayloadMismatch
	}
	if err := VerifyProof(p.PublicKey, addr, p.Proof, allowedDomains, now); err != nil {
		return nil, err
	}
	return addr, nil
}

// VerifyProof проверяет TON Proof подпись.
//
// Алгоритм (по спецификации TON Connect):
// 1. message = "ton-proof-item-v2/" ++ address_workchain(4 bytes) ++ address_hash(32 bytes)
//    ++ domain_len(4 bytes LE) ++ domain ++ timestamp(8 bytes LE) ++ payload
// 2. signature_message = 0xffff ++ "ton-connect" ++ sha256(message)
// 3. Verify Ed25519(public_key, sha256(signature_message), signature)
func VerifyProof(pubKeyHex string, addr *address.Address, proof Proof, allowedDomains []string, now time.Time) error {
	// 1. Проверяем timestamp
	proofTime := time.Unix(proof.Timestamp, 0)
	if now.Sub(proofTime) > MaxProofAge {
		return fmt.Errorf("proof expired: %s old", now.Sub(proofTime).Round(time.Second))
	}
	if proofTime.After(now.Add(1 * time.Minute)) {
		return fmt.Errorf("proof timestamp is in the future")
	}

	// 2. Проверяем domain
	if !isDomainAllowed(proof.Domain.Value, allowedDomains) {
		return fmt.Errorf("domain %q not in allowed list", proof.Domain.Value)
	}

	// 3. Декодируем public key
	pubKey, err := hex.DecodeString(strings.TrimPrefix(pubKeyHex, "0x"))
	if err != nil {
		return fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key size: %d", len(pubKey))
	}

	// 4. Декодируем signature
	sig, err := decodeSignature(proof.Signature)
	if err != nil {
		return err
	}

	// 5. Верифицируем: ed25519.Verify(pubKey, sha256(signatureMessage), sig)
	if !ed25519.Verify(pubKey, SignatureHash(addr, proof), sig) {
		return ErrInvalidProof
	}
	return nil
}

// SignatureHash is the digest the wallet signs for proof at addr.
func SignatureHash(addr *address.Address, proof Proof) []byte {
	message := []byte(TonProofPrefix)

	wcBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(wcBytes, uint32(addr.Workchain()))
	message = append(message, wcBytes...)
	message = append(message, addr.Data()...)

	domainLenBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(domainLenBytes, uint32(proof.Domain.LengthBytes))
	message = append(message, domainLenBytes...)
	message = append(message, []byte(proof.Domain.Value)...)

	tsBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(tsBytes, uint64(proof.Timestamp))
	message = append(message, tsBytes...)

	message = append(message, []byte(proof.Payload)...)

	// signature_message = 0xffff ++ "ton-connect" ++ sha256(message)
	msgHash := sha256.Sum256(message)
	signatureMessage := []byte{0xff, 0xff}
	signatureMessage = append(signatureMessage, []byte(TonConnectPrefix)...)
	signatureMessage = append(signatureMessage, msgHash[:]...)

	finalHash := sha256.Sum256(signatureMessage)
	return finalHash[:]
}

func decodeSignature(s string) ([]byte, error) {
	if sig, err := base64.StdEncoding.DecodeString(s); err == nil && len(sig) == ed25519.SignatureSize {
		return sig, nil
	}
	sig, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("invalid signature size: %d", len(sig))
	}
	return sig, nil
}

func isDomainAllowed(domain string, allowed []string) bool {
	if len(allowed) == 0 {
		return true // если список пуст, разрешаем всё (dev mode)
	}
	for _, d := range allowed {
		if d == domain {
			return true
		}
	}
	return false
}
