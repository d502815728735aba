package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmcc-dao/backend/internal/notify"
	"go.uber.org/zap"
)

type recorder struct {
	destroyed   int
	disconnects int
	cleared     int
	navigations []string
	destroyErr  error
	calls       []string
}

func (r *recorder) DestroySession() error {
	r.destroyed++
	r.calls = append(r.calls, "destroy")
	return r.destroyErr
}

func (r *recorder) DisconnectWallet() error {
	r.disconnects++
	r.calls = append(r.calls, "disconnect")
	return nil
}

func (r *recorder) Navigate(route string) {
	r.navigations = append(r.navigations, route)
	r.calls = append(r.calls, "navigate:"+route)
}

func (r *recorder) ClearCache() {
	r.cleared++
	r.calls = append(r.calls, "clear")
}

func newTestMonitor() (*Monitor, *recorder, *notify.Notifier) {
	rec := &recorder{}
	n := notify.New(nil, zap.NewNop())
	return New(DefaultRoutes(), rec, n, zap.NewNop()), rec, n
}

func snap(ws WalletStatus, wa string, ss SessionStatus, sa, route string) Snapshot {
	return Snapshot{
		Wallet:  WalletState{Status: ws, Address: wa},
		Session: SessionState{Status: ss, Address: sa},
		Route:   route,
	}
}

func TestMonitor_MixedCaseSameWalletNoSignOut(t *testing.T) {
	m, rec, _ := newTestMonitor()
	s := snap(WalletConnected, "0xABCDEF0000000000000000000000000000001234", SessionAuthenticated,
		"0xabcdef0000000000000000000000000000001234", "/onboarding/follow-us")

	for i := 0; i < 5; i++ {
		assert.Empty(t, m.Evaluate(s))
	}
	assert.Zero(t, rec.destroyed)
	assert.Zero(t, rec.disconnects)
}

func TestMonitor_MismatchSignsOutExactlyOnce(t *testing.T) {
	m, rec, n := newTestMonitor()
	s := snap(WalletConnected, "0xAAA0000000000000000000000000000000000001", SessionAuthenticated,
		"0xBBB0000000000000000000000000000000000002", "/onboarding")

	first := m.Evaluate(s)
	require.Len(t, first, 1)
	assert.Equal(t, DirectiveSignOut, first[0].Type)
	assert.Equal(t, ReasonAddressMismatch, first[0].Reason)

	for i := 0; i < 10; i++ {
		assert.Empty(t, m.Evaluate(s))
	}

	assert.Equal(t, 1, rec.destroyed)
	assert.Equal(t, 1, rec.disconnects)
	assert.Equal(t, 1, rec.cleared)
	assert.Equal(t, []string{"destroy", "disconnect", "navigate:/", "clear"}, rec.calls)

	got, ok := n.Get(notify.KeySignOut)
	require.True(t, ok)
	assert.Equal(t, notify.StatusInfo, got.Status)
}

func TestMonitor_MismatchLatchRearms(t *testing.T) {
	m, rec, _ := newTestMonitor()
	bad := snap(WalletConnected, "0xAAA", SessionAuthenticated, "0xBBB", "/onboarding")

	m.Evaluate(bad)
	// session is gone after the sign-out
	m.Evaluate(snap(WalletConnected, "0xAAA", SessionUnauthenticated, "", "/"))
	// a new session with a mismatch again
	m.Evaluate(bad)

	assert.Equal(t, 2, rec.destroyed)
}

func TestMonitor_DisconnectWhileAuthenticated(t *testing.T) {
	tests := []struct {
		name    string
		s       Snapshot
		signOut bool
	}{
		{"gated route", snap(WalletDisconnected, "", SessionAuthenticated, "0x1", "/onboarding/claim-genesis-key"), true},
		{"public route", snap(WalletDisconnected, "", SessionAuthenticated, "0x1", "/"), false},
		{"not authenticated", snap(WalletDisconnected, "", SessionUnauthenticated, "", "/onboarding"), false},
		{"still loading session", snap(WalletDisconnected, "", SessionLoading, "", "/onboarding"), false},
		{"reconnecting", snap(WalletReconnecting, "", SessionAuthenticated, "0x1", "/onboarding"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, rec, _ := newTestMonitor()
			for i := 0; i < 3; i++ {
				m.Evaluate(tt.s)
			}
			if tt.signOut {
				assert.Equal(t, 1, rec.destroyed)
				assert.Equal(t, 1, rec.disconnects)
			} else {
				assert.Zero(t, rec.destroyed)
			}
		})
	}
}

func TestMonitor_RouteGuards(t *testing.T) {
	tests := []struct {
		name string
		s    Snapshot
		want []Directive
	}{
		{
			name: "authenticated on welcome goes to main",
			s:    snap(WalletConnected, "0x1", SessionAuthenticated, "0x1", "/"),
			want: []Directive{{Type: DirectiveRedirect, Route: "/onboarding"}},
		},
		{
			name: "session loading stays on welcome",
			s:    snap(WalletConnected, "0x1", SessionLoading, "", "/"),
		},
		{
			name: "disconnected stays on welcome",
			s:    snap(WalletDisconnected, "", SessionAuthenticated, "0x1", "/"),
		},
		{
			name: "unauthenticated on gated goes to welcome",
			s:    snap(WalletDisconnected, "", SessionUnauthenticated, "", "/onboarding/follow-us"),
			want: []Directive{{Type: DirectiveRedirect, Route: "/"}},
		},
		{
			name: "wallet still connecting waits",
			s:    snap(WalletConnecting, "", SessionUnauthenticated, "", "/onboarding"),
		},
		{
			name: "authenticated on gated stays",
			s:    snap(WalletConnected, "0x1", SessionAuthenticated, "0x1", "/onboarding"),
		},
		{
			name: "unauthenticated on welcome stays",
			s:    snap(WalletIdle, "", SessionUnauthenticated, "", "/"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, rec, _ := newTestMonitor()
			got := m.Evaluate(tt.s)
			assert.Equal(t, tt.want, got)
			assert.Zero(t, rec.destroyed)
			if tt.want != nil {
				assert.Equal(t, []string{tt.want[0].Route}, rec.navigations)
			}
		})
	}
}

func TestMonitor_SignOutRunsEveryStep(t *testing.T) {
	m, rec, _ := newTestMonitor()
	rec.destroyErr = errors.New("disk full")

	m.SignOut(ReasonUser)
	assert.Equal(t, []string{"destroy", "disconnect", "navigate:/", "clear"}, rec.calls)
}

func TestMonitor_Run(t *testing.T) {
	m, rec, _ := newTestMonitor()
	in := make(chan Snapshot, 3)
	bad := snap(WalletConnected, "0xAAA", SessionAuthenticated, "0xBBB", "/onboarding")
	in <- bad
	in <- bad
	in <- bad
	close(in)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background(), in)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after input closed")
	}
	assert.Equal(t, 1, rec.destroyed)
}

func TestRoutes(t *testing.T) {
	r := DefaultRoutes()
	assert.True(t, r.IsGated("/onboarding"))
	assert.True(t, r.IsGated("/onboarding/join-telegram"))
	assert.False(t, r.IsGated("/onboardingx"))
	assert.False(t, r.IsGated("/"))
	assert.True(t, r.IsPublicOnly("/"))
	assert.False(t, r.IsPublicOnly("/onboarding"))
}
