package models

import (
	"time"

	"github.com/google/uuid"
)

// User is keyed by the lowercase wallet address it signed in with.
type User struct {
	ID                uuid.UUID `json:"id"`
	WalletAddress     string    `json:"walletAddress"`
	WalletKind        string    `json:"walletKind"` // evm / ton
	ReferralID        int64     `json:"referralId"`
	UplineID          *int64    `json:"uplineId"`
	TelegramID        *int64    `json:"telegramId,omitempty"`
	TelegramUsername  *string   `json:"telegramUsername,omitempty"`
	TelegramJoined    bool      `json:"telegramJoined"`
	TwitterID         *string   `json:"twitterId,omitempty"`
	TwitterUsername   *string   `json:"twitterUsername,omitempty"`
	TwitterFollowed   bool      `json:"twitterFollowed"`
	TwitterPostLink   *string   `json:"twitterPostLink,omitempty"`
	InstagramUsername *string   `json:"instagramUsername,omitempty"`
	InstagramFollowed bool      `json:"instagramFollowed"`
	GenesisClaimed    bool      `json:"genesisClaimed"`
	Flagged           bool      `json:"flagged"`
	Fingerprint       string    `json:"-"`
	LastIP            string    `json:"-"`
	UserAgent         string    `json:"-"`
	CreatedAt         time.Time `json:"createdAt"`
	LastActiveAt      time.Time `json:"lastActiveAt"`
}

const (
	WalletKindEVM = "evm"
	WalletKindTON = "ton"
)

// ClientMeta are the anti-abuse headers recorded on every verification.
type ClientMeta struct {
	Fingerprint string
	IP          string
	UserAgent   string
}

// ChainFacts are the on-chain views that override stored claim/referral state.
type ChainFacts struct {
	GenesisClaimed bool
	UplineID       *int64
}
