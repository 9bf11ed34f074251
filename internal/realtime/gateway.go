package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/caseledger/casecore/pkg/mlog"
	"github.com/caseledger/casecore/pkg/motel"
)

// Sender delivers a server envelope to one socket. Implemented by the
// transport layer (internal/adapters/http/ws) over a live connection.
type Sender interface {
	Send(socketID string, env ServerEnvelope) error
}

// Gateway is the real-time core: it owns the per-process socket
// registry and wires client events, bus envelopes, and the chat
// projection together per spec.md §4.12.
type Gateway struct {
	instanceID string
	bus        Bus
	sender     Sender
	logger     mlog.Logger

	messages      MessageRepository
	receipts      ReceiptRepository
	readPositions ReadPositionRepository

	typingThrottle time.Duration

	reg *registry

	unsubscribe map[string]func() // caseID -> bus unsubscribe
	unsubMu     sync.Mutex
}

// Deps bundles Gateway's collaborators.
type Deps struct {
	InstanceID     string
	Bus            Bus
	Sender         Sender
	Logger         mlog.Logger
	Messages       MessageRepository
	Receipts       ReceiptRepository
	ReadPositions  ReadPositionRepository
	TypingThrottle time.Duration
}

// NewGateway builds a Gateway.
func NewGateway(d Deps) *Gateway {
	if d.TypingThrottle <= 0 {
		d.TypingThrottle = 300 * time.Millisecond
	}

	return &Gateway{
		instanceID:     d.InstanceID,
		bus:            d.Bus,
		sender:         d.Sender,
		logger:         d.Logger,
		messages:       d.Messages,
		receipts:       d.Receipts,
		readPositions:  d.ReadPositions,
		typingThrottle: d.TypingThrottle,
		reg:            newRegistry(),
		unsubscribe:    make(map[string]func()),
	}
}

// Connect registers a new socket, subscribing the case's bus channel
// on first connection and publishing a PRESENCE_UPDATE when this is
// the user's first open socket for the case.
func (g *Gateway) Connect(ctx context.Context, s *Socket) {
	firstForUser := g.reg.add(s)

	g.ensureSubscribed(ctx, s.CaseID)

	if firstForUser {
		g.publishAndDeliver(ctx, s.CaseID, BusKindPresence, PresencePayload{UserID: s.Auth.UserID, Online: true})
	}
}

// Disconnect tears down a socket: removes it from the registry,
// publishes a presence-offline transition on the user's last socket,
// and publishes TYPING_UPDATE{isTyping:false} for that user (spec.md
// §4.12 "On socket close").
func (g *Gateway) Disconnect(ctx context.Context, s *Socket) {
	groupEmpty, lastForUser := g.reg.remove(s)

	g.publishAndDeliver(ctx, s.CaseID, BusKindTyping, TypingPayload{UserID: s.Auth.UserID, IsTyping: false})

	if lastForUser {
		g.publishAndDeliver(ctx, s.CaseID, BusKindPresence, PresencePayload{UserID: s.Auth.UserID, Online: false})
	}

	if groupEmpty {
		g.unsubMu.Lock()
		if unsub, ok := g.unsubscribe[s.CaseID]; ok {
			unsub()
			delete(g.unsubscribe, s.CaseID)
		}
		g.unsubMu.Unlock()
	}
}

// HandleClientMessage dispatches one client-originated envelope
// (spec.md §4.12 "Client events accepted from a socket").
func (g *Gateway) HandleClientMessage(ctx context.Context, s *Socket, env ClientEnvelope) error {
	switch env.Type {
	case ClientTypingStart:
		return g.handleTypingStart(ctx, s)
	case ClientTypingStop:
		s.LastTypingAt = time.Time{}
		g.publishAndDeliver(ctx, s.CaseID, BusKindTyping, TypingPayload{UserID: s.Auth.UserID, IsTyping: false})
		return nil
	case ClientMessageDeliveredBatch:
		return g.handleReceiptBatch(ctx, s, env.MessageIDs, ReceiptDelivered)
	case ClientMessageSeenBatch:
		return g.handleReceiptBatch(ctx, s, env.MessageIDs, ReceiptSeen)
	case ClientCaseReadUpTo:
		return g.handleCaseReadUpTo(ctx, s, env.MessageID)
	default:
		return nil
	}
}

func (g *Gateway) handleTypingStart(ctx context.Context, s *Socket) error {
	now := time.Now().UTC()
	if !s.LastTypingAt.IsZero() && now.Sub(s.LastTypingAt) < g.typingThrottle {
		return nil
	}

	s.LastTypingAt = now
	g.publishAndDeliver(ctx, s.CaseID, BusKindTyping, TypingPayload{UserID: s.Auth.UserID, IsTyping: true})

	return nil
}

func (g *Gateway) handleReceiptBatch(ctx context.Context, s *Socket, messageIDs []string, kind ReceiptKind) error {
	now := time.Now().UTC()

	for _, messageID := range messageIDs {
		var err error
		switch kind {
		case ReceiptDelivered:
			err = g.receipts.UpsertDelivered(ctx, s.Auth.TenantID, messageID, s.Auth.UserID, now)
		case ReceiptSeen:
			err = g.receipts.UpsertSeen(ctx, s.Auth.TenantID, messageID, s.Auth.UserID, now)
		}

		if err != nil {
			return err
		}

		g.publishAndDeliver(ctx, s.CaseID, BusKindMessageReceipt, MessageReceiptPayload{
			MessageID: messageID, UserID: s.Auth.UserID, Kind: kind, At: now,
		})
	}

	return nil
}

func (g *Gateway) handleCaseReadUpTo(ctx context.Context, s *Socket, messageID string) error {
	createdAt, err := g.messages.GetCreatedAt(ctx, s.Auth.TenantID, messageID)
	if err != nil {
		return err
	}

	if _, err := g.readPositions.AdvanceTo(ctx, s.Auth.TenantID, s.CaseID, s.Auth.UserID, messageID, createdAt); err != nil {
		return err
	}

	// origin-only, never broadcast.
	g.deliverTo([]*Socket{s}, ServerEnvelope{Type: ServerUnreadReset, Payload: UnreadResetPayload{CaseID: s.CaseID}})

	return nil
}

// PublishMessage implements spec.md §4.12's publishMessage: persist is
// the caller's responsibility (the HTTP command path), this performs
// the fan-out side effects once a message exists.
func (g *Gateway) PublishMessage(ctx context.Context, m Message) {
	tracer := motel.NewTracerFromContext(ctx)
	_, span := tracer.Start(ctx, "realtime.publish_message")
	defer span.End()

	g.publishAndDeliver(ctx, m.CaseID, BusKindMessageCreated, MessageCreatedPayload{Message: m})
	g.publishAndDeliver(ctx, m.CaseID, BusKindUnreadDelta, UnreadDeltaPayload{CaseID: m.CaseID, Delta: 1, AuthorID: m.AuthorID})

	authorSockets := g.reg.byUser(m.CaseID, m.AuthorID)
	g.deliverTo(authorSockets, ServerEnvelope{
		Type:    ServerMessageAck,
		Payload: MessageAckPayload{ClientMutationID: m.ClientMutationID, MessageID: m.ID},
	})
}

// publishAndDeliver publishes a bus envelope for cross-instance
// fan-out and delivers it to this process's own sockets immediately,
// mirroring what every instance (including this one) will do on
// receipt — except this instance drops its own echo off the bus.
func (g *Gateway) publishAndDeliver(ctx context.Context, caseID string, kind BusKind, payload any) {
	env := BusEnvelope{InstanceID: g.instanceID, Kind: kind, CaseID: caseID, Payload: payload}

	if err := g.bus.Publish(ctx, caseID, env); err != nil {
		g.logger.Errorf("realtime: publish %s for case %s: %v", kind, caseID, err)
	}

	g.deliverLocal(caseID, env)
}

// deliverLocal fans a bus envelope out to this process's own sockets
// for the case, translating bus kinds to server message types.
// UNREAD_DELTA is excluded from the author's own sockets, per spec.md
// §4.12, regardless of which instance the author is connected to.
func (g *Gateway) deliverLocal(caseID string, env BusEnvelope) {
	if env.Kind == BusKindUnreadDelta {
		payload, ok := env.Payload.(UnreadDeltaPayload)
		if !ok {
			return
		}

		g.deliverTo(g.reg.exceptUser(caseID, payload.AuthorID), ServerEnvelope{Type: ServerUnreadDelta, Payload: payload})

		return
	}

	serverType, ok := map[BusKind]ServerMessageType{
		BusKindPresence:       ServerPresenceUpdate,
		BusKindTyping:         ServerTypingUpdate,
		BusKindMessageCreated: ServerMessageCreated,
		BusKindMessageReceipt: ServerMessageReceipt,
	}[env.Kind]
	if !ok {
		return
	}

	g.deliverTo(g.reg.all(caseID), ServerEnvelope{Type: serverType, Payload: env.Payload})
}

func (g *Gateway) deliverTo(sockets []*Socket, env ServerEnvelope) {
	for _, s := range sockets {
		if err := g.sender.Send(s.ID, env); err != nil {
			g.logger.Errorf("realtime: deliver %s to socket %s: %v", env.Type, s.ID, err)
		}
	}
}

// ensureSubscribed subscribes to the case's bus channel once per case
// per process, dropping this instance's own envelopes (spec.md §4.12:
// "Instances drop envelopes whose instanceId matches their own").
func (g *Gateway) ensureSubscribed(ctx context.Context, caseID string) {
	g.unsubMu.Lock()
	defer g.unsubMu.Unlock()

	if _, ok := g.unsubscribe[caseID]; ok {
		return
	}

	envelopes, unsub, err := g.bus.Subscribe(ctx, caseID)
	if err != nil {
		g.logger.Errorf("realtime: subscribe case %s: %v", caseID, err)
		return
	}

	g.unsubscribe[caseID] = unsub

	go func() {
		for env := range envelopes {
			if env.InstanceID == g.instanceID {
				continue
			}
			g.deliverLocal(caseID, env)
		}
	}()
}
