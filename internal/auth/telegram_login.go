package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultLoginMaxAge: максимальный возраст auth_date для Login Widget.
const DefaultLoginMaxAge = 24 * time.Hour

// TelegramLogin is the payload the Telegram Login Widget hands to the page.
type TelegramLogin struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
	AuthDate  int64  `json:"auth_date"`
	Hash      string `json:"hash"`
}

func (l TelegramLogin) fields() map[string]string {
	f := map[string]string{
		"id":        strconv.FormatInt(l.ID, 10),
		"auth_date": strconv.FormatInt(l.AuthDate, 10),
	}
	if l.FirstName != "" {
		f["first_name"] = l.FirstName
	}
	if l.LastName != "" {
		f["last_name"] = l.LastName
	}
	if l.Username != "" {
		f["username"] = l.Username
	}
	if l.PhotoURL != "" {
		f["photo_url"] = l.PhotoURL
	}
	return f
}

// ValidateTelegramLogin validates Login Widget data.
// https://core.telegram.org/widgets/login#checking-authorization
//
// maxAge: максимально допустимый возраст auth_date. Если <= 0, используется DefaultLoginMaxAge.
func ValidateTelegramLogin(l TelegramLogin, botToken string, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = DefaultLoginMaxAge
	}
	if l.Hash == "" {
		return fmt.Errorf("hash is missing from login data")
	}
	if l.ID == 0 {
		return fmt.Errorf("id is missing from login data")
	}
	if l.AuthDate == 0 {
		return fmt.Errorf("auth_date is missing from login data")
	}

	// ---- Проверяем auth_date (свежесть) ----
	authDate := time.Unix(l.AuthDate, 0)
	if time.Since(authDate) > maxAge {
		return fmt.Errorf("login data expired: auth_date is %s old (max %s)", time.Since(authDate).Round(time.Second), maxAge)
	}
	// Защита от auth_date из будущего (clock skew макс. 1 мин)
	if authDate.After(time.Now().Add(1 * time.Minute)) {
		return fmt.Errorf("auth_date is in the future")
	}

	// ---- Проверяем HMAC-SHA256 подпись ----
	// secret_key = SHA256(bot_token)
	secretKey := sha256.Sum256([]byte(botToken))
	hash := hmacSHA256(secretKey[:], []byte(dataCheckString(l.fields())))
	calculatedHash := hex.EncodeToString(hash)

	if !hmac.Equal([]byte(calculatedHash), []byte(strings.ToLower(l.Hash))) {
		return fmt.Errorf("invalid hash: data integrity check failed")
	}
	return nil
}

func dataCheckString(fields map[string]string) string {
	pairs := make([]string, 0, len(fields))
	for k, v := range fields {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "\n")
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
