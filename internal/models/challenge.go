package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthChallenge is a single-use sign-in nonce bound to one wallet.
type AuthChallenge struct {
	ID            uuid.UUID `json:"id"`
	WalletAddress string    `json:"walletAddress"`
	Nonce         string    `json:"nonce"`
	Message       string    `json:"messageToSign"`
	CreatedAt     time.Time `json:"-"`
	ExpiresAt     time.Time `json:"-"`
	Used          bool      `json:"-"`
}

func (c *AuthChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
