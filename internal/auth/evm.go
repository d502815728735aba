package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrSignatureMismatch = errors.New("signature does not match wallet address")

// IsEVMAddress accepts 0x-prefixed 20-byte hex in any case.
func IsEVMAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// NormalizeEVMAddress returns the lowercase form used as the user key.
func NormalizeEVMAddress(s string) string {
	return strings.ToLower(common.HexToAddress(s).Hex())
}

// RecoverPersonalSign returns the address that produced an EIP-191
// personal_sign signature over message.
func RecoverPersonalSign(message, signatureHex string) (common.Address, error) {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	// wallets send v as 27/28, SigToPub wants 0/1
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", sig[crypto.RecoveryIDOffset])
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyPersonalSign checks that wallet signed message. Address case is ignored.
func VerifyPersonalSign(wallet, message, signatureHex string) error {
	if !IsEVMAddress(wallet) {
		return fmt.Errorf("invalid wallet address %q", wallet)
	}
	recovered, err := RecoverPersonalSign(message, signatureHex)
	if err != nil {
		return err
	}
	if recovered != common.HexToAddress(wallet) {
		return ErrSignatureMismatch
	}
	return nil
}
