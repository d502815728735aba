package walletauth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmcc-dao/backend/internal/apperr"
)

var ErrSignatureDenied = apperr.New(apperr.KindSignatureRejected, "SignatureDenied", "signature request was rejected")

// Signer is a connected wallet. SignMessage may block until the holder
// answers; a refusal must come back as ErrSignatureDenied.
type Signer interface {
	Address() string
	SignMessage(ctx context.Context, message string) (string, error)
}

// KeySigner signs personal_sign (EIP-191) messages with a local key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address string
}

func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

// KeySignerFromHex accepts a hex private key with or without 0x.
func KeySignerFromHex(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewKeySigner(key), nil
}

func (s *KeySigner) Address() string { return s.address }

func (s *KeySigner) SignMessage(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), s.key)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// ConfirmFunc asks the holder to approve a message.
type ConfirmFunc func(ctx context.Context, address, message string) (bool, error)

// PromptSigner gates another signer behind an approval prompt.
type PromptSigner struct {
	inner   Signer
	confirm ConfirmFunc
}

func NewPromptSigner(inner Signer, confirm ConfirmFunc) *PromptSigner {
	return &PromptSigner{inner: inner, confirm: confirm}
}

func (p *PromptSigner) Address() string { return p.inner.Address() }

func (p *PromptSigner) SignMessage(ctx context.Context, message string) (string, error) {
	ok, err := p.confirm(ctx, p.inner.Address(), message)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrSignatureDenied
	}
	return p.inner.SignMessage(ctx, message)
}
