// Package monitor reconciles three identity sources: the wallet connection,
// the authenticated session, and the current route. It is the only place that
// forces a sign-out.
package monitor

import (
	"context"
	"strings"
	"sync"

	"github.com/vmcc-dao/backend/internal/notify"
	"github.com/vmcc-dao/backend/internal/session"
	"go.uber.org/zap"
)

type WalletStatus string

const (
	WalletIdle         WalletStatus = "idle"
	WalletConnecting   WalletStatus = "connecting"
	WalletConnected    WalletStatus = "connected"
	WalletReconnecting WalletStatus = "reconnecting"
	WalletDisconnected WalletStatus = "disconnected"
)

// Loading reports whether the connector has not settled yet.
func (s WalletStatus) Loading() bool {
	return s == WalletConnecting || s == WalletReconnecting
}

type SessionStatus string

const (
	SessionLoading         SessionStatus = "loading"
	SessionAuthenticated   SessionStatus = "authenticated"
	SessionUnauthenticated SessionStatus = "unauthenticated"
)

type WalletState struct {
	Status  WalletStatus `json:"status"`
	Address string       `json:"address,omitempty"`
}

type SessionState struct {
	Status  SessionStatus `json:"status"`
	Address string        `json:"address,omitempty"`
}

// Snapshot is one observation of all three sources.
type Snapshot struct {
	Wallet  WalletState  `json:"wallet"`
	Session SessionState `json:"session"`
	Route   string       `json:"route"`
}

// Sign-out reasons
const (
	ReasonWalletDisconnected = "wallet_disconnected"
	ReasonAddressMismatch    = "address_mismatch"
	ReasonUser               = "user"
	ReasonRevoked            = "revoked"
)

type Routes struct {
	Welcome string
	Main    string
	// Gated are route prefixes that need an authenticated session.
	Gated []string
	// PublicOnly are routes that make no sense once signed in.
	PublicOnly []string
}

func DefaultRoutes() Routes {
	return Routes{
		Welcome:    "/",
		Main:       "/onboarding",
		Gated:      []string{"/onboarding", "/dashboard"},
		PublicOnly: []string{"/"},
	}
}

func (r Routes) IsGated(route string) bool {
	for _, p := range r.Gated {
		if route == p || strings.HasPrefix(route, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

func (r Routes) IsPublicOnly(route string) bool {
	for _, p := range r.PublicOnly {
		if route == p {
			return true
		}
	}
	return false
}

// Actions are the side effects a sign-out or redirect needs.
type Actions interface {
	DestroySession() error
	DisconnectWallet() error
	Navigate(route string)
	ClearCache()
}

type DirectiveType string

const (
	DirectiveSignOut  DirectiveType = "sign_out"
	DirectiveRedirect DirectiveType = "redirect"
)

type Directive struct {
	Type   DirectiveType `json:"type"`
	Reason string        `json:"reason,omitempty"`
	Route  string        `json:"route,omitempty"`
}

type Monitor struct {
	routes   Routes
	actions  Actions
	notifier *notify.Notifier
	log      *zap.Logger

	mu sync.Mutex
	// one-shot latches, re-armed once their condition clears
	disconnectFired bool
	mismatchFired   bool
}

func New(routes Routes, actions Actions, notifier *notify.Notifier, log *zap.Logger) *Monitor {
	return &Monitor{routes: routes, actions: actions, notifier: notifier, log: log}
}

// Evaluate runs every rule against s and performs what they decide.
// It returns the directives it acted on.
func (m *Monitor) Evaluate(s Snapshot) []Directive {
	d := m.decide(s)
	for _, x := range d {
		switch x.Type {
		case DirectiveSignOut:
			m.signOut(x.Reason)
		case DirectiveRedirect:
			m.actions.Navigate(x.Route)
		}
	}
	return d
}

func (m *Monitor) decide(s Snapshot) []Directive {
	m.mu.Lock()
	defer m.mu.Unlock()

	authed := s.Session.Status == SessionAuthenticated
	gated := m.routes.IsGated(s.Route)

	// A: wallet dropped while signed in on a gated route
	disconnected := gated && authed && s.Wallet.Status == WalletDisconnected
	if !disconnected {
		m.disconnectFired = false
	}

	// B: connected wallet is not the session's wallet
	mismatch := authed && s.Wallet.Status == WalletConnected &&
		s.Wallet.Address != "" && !session.SameWallet(s.Wallet.Address, s.Session.Address)
	if !mismatch {
		m.mismatchFired = false
	}

	switch {
	case disconnected && !m.disconnectFired:
		m.disconnectFired = true
		return []Directive{{Type: DirectiveSignOut, Reason: ReasonWalletDisconnected, Route: m.routes.Welcome}}
	case mismatch && !m.mismatchFired:
		m.mismatchFired = true
		return []Directive{{Type: DirectiveSignOut, Reason: ReasonAddressMismatch, Route: m.routes.Welcome}}
	case disconnected || mismatch:
		// already signed out for this condition
		return nil
	}

	// C: signed in, sitting on a public-only route
	if m.routes.IsPublicOnly(s.Route) && s.Wallet.Status != WalletDisconnected &&
		s.Session.Status != SessionLoading && s.Session.Status != SessionUnauthenticated &&
		s.Route != m.routes.Main {
		return []Directive{{Type: DirectiveRedirect, Route: m.routes.Main}}
	}

	// D: gated route without a session
	if gated && s.Session.Status == SessionUnauthenticated && !s.Wallet.Status.Loading() &&
		s.Route != m.routes.Welcome {
		return []Directive{{Type: DirectiveRedirect, Route: m.routes.Welcome}}
	}

	return nil
}

// SignOut is the single sign-out path. Every step runs even if an earlier
// one failed, so the wallet and the session never end up half torn down.
func (m *Monitor) SignOut(reason string) {
	m.signOut(reason)
}

func (m *Monitor) signOut(reason string) {
	if err := m.actions.DestroySession(); err != nil {
		m.log.Warn("sign-out: destroy session failed", zap.Error(err))
	}
	if err := m.actions.DisconnectWallet(); err != nil {
		m.log.Warn("sign-out: disconnect wallet failed", zap.Error(err))
	}
	m.actions.Navigate(m.routes.Welcome)
	m.actions.ClearCache()

	m.log.Info("signed out", zap.String("reason", reason))
	if m.notifier != nil {
		m.notifier.Info(notify.KeySignOut, signOutMessage(reason))
	}
}

func signOutMessage(reason string) string {
	switch reason {
	case ReasonWalletDisconnected:
		return "Wallet disconnected, you have been signed out"
	case ReasonAddressMismatch:
		return "Connected wallet changed, please sign in again"
	case ReasonRevoked:
		return "Session ended"
	default:
		return "Signed out"
	}
}

// Run evaluates every snapshot from in until ctx is done or in is closed.
func (m *Monitor) Run(ctx context.Context, in <-chan Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			m.Evaluate(s)
		}
	}
}
