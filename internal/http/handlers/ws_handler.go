package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/vmcc-dao/backend/internal/auth"
	"github.com/vmcc-dao/backend/internal/events"
	"github.com/vmcc-dao/backend/internal/http/dto"
	"github.com/vmcc-dao/backend/internal/monitor"
	"github.com/vmcc-dao/backend/internal/services"
	"go.uber.org/zap"
)

// frameWriter is the part of *websocket.Conn the hub writes through.
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// SessionHub runs one monitor per socket and pushes its directives back.
// Sockets are grouped by wallet so a revocation reaches every tab.
type SessionHub struct {
	authService *services.AuthService
	jwtSecret   string
	routes      monitor.Routes
	subscriber  events.Subscriber
	log         *zap.Logger

	mu    sync.RWMutex
	conns map[string][]*sessionConn
}

func NewSessionHub(authService *services.AuthService, jwtSecret string, routes monitor.Routes, subscriber events.Subscriber, log *zap.Logger) *SessionHub {
	return &SessionHub{
		authService: authService,
		jwtSecret:   jwtSecret,
		routes:      routes,
		subscriber:  subscriber,
		log:         log,
		conns:       make(map[string][]*sessionConn),
	}
}

// Start listens for revocations published by any instance.
func (h *SessionHub) Start(ctx context.Context) error {
	if h.subscriber == nil {
		return nil
	}
	return h.subscriber.Subscribe(ctx, events.StreamSession, h.onEvent)
}

func (h *SessionHub) onEvent(ev events.Event) {
	if ev.Type != events.EventSessionRevoked {
		return
	}
	wallet := strings.ToLower(ev.PayloadString("wallet"))

	h.mu.RLock()
	conns := append([]*sessionConn(nil), h.conns[wallet]...)
	h.mu.RUnlock()

	for _, sc := range conns {
		if sc.markSignedOut() {
			sc.send(h.log, dto.Directive{Type: string(monitor.DirectiveSignOut), Reason: monitor.ReasonRevoked, Route: h.routes.Welcome})
		}
	}
}

// sessionConn is one socket. It is also the monitor's Actions: on the
// server a sign-out means revoking the token, everything else happens
// in the browser once it gets the directive.
type sessionConn struct {
	w      frameWriter
	claims *auth.Claims
	mon    *monitor.Monitor

	writeMu sync.Mutex

	mu        sync.Mutex
	destroy   bool
	signedOut bool
}

func (sc *sessionConn) DestroySession() error {
	sc.mu.Lock()
	sc.destroy = true
	sc.mu.Unlock()
	return nil
}

func (sc *sessionConn) DisconnectWallet() error { return nil }
func (sc *sessionConn) Navigate(string)         {}
func (sc *sessionConn) ClearCache()             {}

// takeDestroy reports whether the monitor asked for the session to be
// destroyed and this socket has not signed out yet.
func (sc *sessionConn) takeDestroy() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.destroy {
		return false
	}
	sc.destroy = false
	if sc.signedOut {
		return false
	}
	sc.signedOut = true
	return true
}

func (sc *sessionConn) markSignedOut() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.signedOut {
		return false
	}
	sc.signedOut = true
	return true
}

func (sc *sessionConn) send(log *zap.Logger, d dto.Directive) {
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if err := sc.w.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug("ws write failed", zap.Error(err))
	}
}

func (h *SessionHub) register(w frameWriter, claims *auth.Claims) *sessionConn {
	sc := &sessionConn{w: w, claims: claims}
	sc.mon = monitor.New(h.routes, sc, nil, h.log.With(zap.String("wallet", claims.WalletAddress)))

	key := strings.ToLower(claims.WalletAddress)
	h.mu.Lock()
	h.conns[key] = append(h.conns[key], sc)
	h.mu.Unlock()
	return sc
}

func (h *SessionHub) unregister(sc *sessionConn) {
	key := strings.ToLower(sc.claims.WalletAddress)
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.conns[key]
	for i, c := range conns {
		if c == sc {
			h.conns[key] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.conns[key]) == 0 {
		delete(h.conns, key)
	}
}

// handleSnapshot evaluates one snapshot and writes the resulting directives.
// A forced sign-out revokes the token once per socket.
func (h *SessionHub) handleSnapshot(ctx context.Context, sc *sessionConn, snap monitor.Snapshot) {
	for _, d := range sc.mon.Evaluate(snap) {
		if d.Type == monitor.DirectiveSignOut && sc.takeDestroy() {
			if err := h.authService.Revoke(ctx, sc.claims, d.Reason); err != nil {
				h.log.Error("failed to revoke session", zap.String("wallet", sc.claims.WalletAddress), zap.Error(err))
			}
		}
		sc.send(h.log, dto.Directive{Type: string(d.Type), Reason: d.Reason, Route: d.Route})
	}
}

// connections returns how many sockets the wallet has open.
func (h *SessionHub) connections(wallet string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[strings.ToLower(wallet)])
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *SessionHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.jwtSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if revoked, err := h.authService.IsRevoked(ctx, claims); err == nil && revoked {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"token revoked"}`))
		conn.Close()
		return
	}

	sc := h.register(conn, claims)
	defer func() {
		h.unregister(sc)
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var snap monitor.Snapshot
		if err := json.Unmarshal(msg, &snap); err != nil {
			sc.send(h.log, dto.Directive{Type: "error", Reason: "invalid snapshot"})
			continue
		}
		h.handleSnapshot(ctx, sc, snap)
	}
}
