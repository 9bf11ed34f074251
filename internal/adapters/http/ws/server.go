// Package ws wires the real-time gateway onto a Fiber WebSocket
// upgrade route. Grounded on the teacher's Fiber routers
// (components/audit/internal/adapters/http/in/routes.go) and on
// gofiber/contrib/websocket, the teacher's own router framework's
// socket extension.
package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/caseledger/casecore/internal/realtime"
	"github.com/caseledger/casecore/pkg/mlog"
)

const (
	localsKeyUserID   = "ws_user_id"
	localsKeyTenantID = "ws_tenant_id"
	localsKeyCaseID   = "ws_case_id"
)

// Sender implements realtime.Sender over live websocket connections.
type Sender struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// NewSender builds a Sender.
func NewSender() *Sender {
	return &Sender{conns: make(map[string]*websocket.Conn)}
}

func (s *Sender) register(socketID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[socketID] = conn
}

func (s *Sender) unregister(socketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, socketID)
}

// Send writes env as JSON to the named socket. A socket that has
// already closed is a no-op: delivery is best-effort (spec.md §5).
func (s *Sender) Send(socketID string, env realtime.ServerEnvelope) error {
	s.mu.Lock()
	conn, ok := s.conns[socketID]
	s.mu.Unlock()

	if !ok {
		return nil
	}

	return conn.WriteJSON(env)
}

// AuthResolver resolves a socket's identity from the upgrade request.
// Token verification is an out-of-scope external collaborator's
// concern (spec.md §1); this only shapes the boundary.
type AuthResolver func(c *fiber.Ctx) (userID, tenantID string, err error)

// RegisterRoutes mounts the case websocket route on app.
func RegisterRoutes(app *fiber.App, gateway *realtime.Gateway, sender *Sender, resolveAuth AuthResolver, logger mlog.Logger) {
	app.Use("/ws/cases/:caseId", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		userID, tenantID, err := resolveAuth(c)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		c.Locals(localsKeyUserID, userID)
		c.Locals(localsKeyTenantID, tenantID)
		c.Locals(localsKeyCaseID, c.Params("caseId"))

		return c.Next()
	})

	app.Get("/ws/cases/:caseId", websocket.New(func(conn *websocket.Conn) {
		handleConnection(conn, gateway, sender, logger)
	}))
}

func handleConnection(conn *websocket.Conn, gateway *realtime.Gateway, sender *Sender, logger mlog.Logger) {
	socket := &realtime.Socket{
		ID:     uuid.NewString(),
		CaseID: conn.Locals(localsKeyCaseID).(string),
		Auth: realtime.Auth{
			UserID:   conn.Locals(localsKeyUserID).(string),
			TenantID: conn.Locals(localsKeyTenantID).(string),
		},
	}

	ctx := context.Background()

	sender.register(socket.ID, conn)
	gateway.Connect(ctx, socket)

	defer func() {
		sender.unregister(socket.ID)
		gateway.Disconnect(ctx, socket)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env realtime.ClientEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Errorf("ws: malformed client envelope on socket %s: %v", socket.ID, err)
			continue
		}

		if err := gateway.HandleClientMessage(ctx, socket, env); err != nil {
			logger.Errorf("ws: handle %s on socket %s: %v", env.Type, socket.ID, err)
		}
	}
}
