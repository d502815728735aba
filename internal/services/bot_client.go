package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BotClient calls the Telegram Bot API with the onboarding bot's token.
type BotClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

func NewBotClient(baseURL, token string, log *zap.Logger) *BotClient {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &BotClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

func (c *BotClient) Configured() bool { return c.token != "" }

type ChatMember struct {
	Status   string `json:"status"`
	IsMember bool   `json:"is_member"` // только для restricted
	User     struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

// Joined reports whether the member currently belongs to the chat.
func (m *ChatMember) Joined() bool {
	switch m.Status {
	case "creator", "administrator", "member":
		return true
	case "restricted":
		return m.IsMember
	default:
		return false
	}
}

// GetChatMember looks up userID in chat (@channel or numeric id).
func (c *BotClient) GetChatMember(ctx context.Context, chat string, userID int64) (*ChatMember, error) {
	q := url.Values{}
	q.Set("chat_id", chat)
	q.Set("user_id", fmt.Sprintf("%d", userID))
	u := fmt.Sprintf("%s/bot%s/getChatMember?%s", c.baseURL, c.token, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram api unavailable: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		OK          bool       `json:"ok"`
		Description string     `json:"description"`
		Result      ChatMember `json:"result"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("telegram api returned %d: %s", resp.StatusCode, string(raw))
	}
	if !body.OK {
		// "Bad Request: user not found": пользователь ни разу не заходил в чат
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(body.Description), "user not found") {
			return &ChatMember{Status: "left"}, nil
		}
		return nil, fmt.Errorf("telegram api returned %d: %s", resp.StatusCode, body.Description)
	}
	return &body.Result, nil
}
