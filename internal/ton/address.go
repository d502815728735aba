package ton

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/xssnick/tonutils-go/address"
)

// ParseAddress accepts the raw "wc:hex" form as well as user-friendly
// base64 addresses (EQ.../UQ...).
func ParseAddress(s string) (*address.Address, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ":") {
		a, err := address.ParseRawAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid raw TON address: %w", err)
		}
		return a, nil
	}
	a, err := address.ParseAddr(s)
	if err != nil {
		return nil, fmt.Errorf("invalid TON address: %w", err)
	}
	return a, nil
}

// RawForm is the canonical lowercase "wc:hex" key users are stored under.
func RawForm(a *address.Address) string {
	return fmt.Sprintf("%d:%s", a.Workchain(), hex.EncodeToString(a.Data()))
}

// IsAddress reports whether s parses as a TON address.
func IsAddress(s string) bool {
	_, err := ParseAddress(s)
	return err == nil
}

// ton_proof network ids
const (
	NetworkMainnet = "-239"
	NetworkTestnet = "-3"
)

// NetworkID maps a configured network name to the id wallets report.
// Unknown values are returned as is.
func NetworkID(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mainnet":
		return NetworkMainnet
	case "testnet":
		return NetworkTestnet
	default:
		return strings.TrimSpace(name)
	}
}
