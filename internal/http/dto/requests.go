package dto

import "github.com/vmcc-dao/backend/internal/auth"

type InitiateRequest struct {
	WalletAddress string `json:"walletAddress"`
	AppName       string `json:"appName"`
	Chain         string `json:"chain,omitempty"`
}

type TelegramLinkRequest = auth.TelegramLogin

type FollowRequest struct {
	PostLink string `json:"postLink"`
}

type InstagramRequest struct {
	Username string `json:"username"`
}

type ReferralRequest struct {
	Code string `json:"code"`
}

type OAuthCallbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type OAuthRefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}
