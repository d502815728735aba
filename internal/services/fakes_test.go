package services

import (
	"context"

	"github.com/vmcc-dao/backend/internal/socialcheck"
)

type fakeChain struct {
	claimed map[string]bool
	upline  map[string]int64
	err     error
}

func (f *fakeChain) HasClaimed(_ context.Context, wallet string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.claimed[wallet], nil
}

func (f *fakeChain) UplineID(_ context.Context, wallet string) (*int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if id, ok := f.upline[wallet]; ok {
		return &id, nil
	}
	return nil, nil
}

type fakeBot struct {
	status string
	err    error
}

func (f *fakeBot) GetChatMember(_ context.Context, _ string, _ int64) (*ChatMember, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ChatMember{Status: f.status}, nil
}

type fakeChecker struct {
	profiles map[string]*socialcheck.Profile
	err      error
}

func (f *fakeChecker) InstagramProfile(_ context.Context, username string) (*socialcheck.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[username]
	if !ok {
		return nil, socialcheck.ErrProfileNotFound
	}
	return p, nil
}
