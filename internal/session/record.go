package session

import (
	"strings"
	"time"
)

// Record is the authenticated identity snapshot kept on the client.
// It belongs to exactly one wallet address for its whole life.
type Record struct {
	WalletAddress string `json:"walletAddress"`
	AccessToken   string `json:"accessToken"`

	TelegramID       int64  `json:"telegramId,omitempty"`
	TelegramUsername string `json:"telegramUsername,omitempty"`
	TelegramJoined   bool   `json:"telegramJoined"`

	TwitterID       string `json:"twitterId,omitempty"`
	TwitterUsername string `json:"twitterUsername,omitempty"`
	TwitterFollowed bool   `json:"twitterFollowed"`
	TwitterPostLink string `json:"twitterPostLink,omitempty"`

	InstagramUsername string `json:"instagramUsername,omitempty"`
	InstagramFollowed bool   `json:"instagramFollowed"`

	UplineID       *int64 `json:"uplineId"`
	GenesisClaimed bool   `json:"genesisClaimed"`
	Flagged        bool   `json:"flagged"`

	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// Patch field names, as they appear in Record's JSON.
const (
	FieldWalletAddress     = "walletAddress"
	FieldAccessToken       = "accessToken"
	FieldTelegramID        = "telegramId"
	FieldTelegramUsername  = "telegramUsername"
	FieldTelegramJoined    = "telegramJoined"
	FieldTwitterID         = "twitterId"
	FieldTwitterUsername   = "twitterUsername"
	FieldTwitterFollowed   = "twitterFollowed"
	FieldTwitterPostLink   = "twitterPostLink"
	FieldInstagramUsername = "instagramUsername"
	FieldInstagramFollowed = "instagramFollowed"
	FieldUplineID          = "uplineId"
	FieldGenesisClaimed    = "genesisClaimed"
	FieldFlagged           = "flagged"
	FieldUpdatedAt         = "updatedAt"
)

// Patch is a shallow partial update keyed by JSON field name.
type Patch map[string]any

// Timestamp formats t the way Record stores timestamps.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NewRecord stamps both timestamps with t.
func NewRecord(wallet, accessToken string, t time.Time) *Record {
	ts := Timestamp(t)
	return &Record{
		WalletAddress: wallet,
		AccessToken:   accessToken,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.UplineID != nil {
		v := *r.UplineID
		c.UplineID = &v
	}
	return &c
}

// UpdatedTime parses UpdatedAt; the zero time means unknown.
func (r *Record) UpdatedTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// TwitterVerified is true once every X field of the follow step is present.
func (r *Record) TwitterVerified() bool {
	return r.TwitterUsername != "" && r.TwitterFollowed && r.TwitterPostLink != "" && r.TwitterID != ""
}

// SameWallet compares addresses case-insensitively.
func SameWallet(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
