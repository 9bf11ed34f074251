// Package realtime implements the Real-time Gateway (C13): per-case
// socket fan-out over a Redis pub/sub bus, presence and typing
// indicators, delivery/seen receipts, unread tracking, and cursor-based
// message history pagination. Grounded on spec.md §4.12 and its
// SPEC_FULL.md §4.13.1/§4.13.2 supplements.
package realtime

import "time"

// BusKind enumerates the envelope kinds carried on the pub/sub bus
// (spec.md §4.12).
type BusKind string

const (
	BusKindPresence       BusKind = "PRESENCE"
	BusKindTyping         BusKind = "TYPING"
	BusKindMessageCreated BusKind = "MESSAGE_CREATED"
	BusKindMessageReceipt BusKind = "MESSAGE_RECEIPT"
	BusKindUnreadDelta    BusKind = "UNREAD_DELTA"
)

// ClientMessageType enumerates messages accepted from a socket
// (spec.md §6).
type ClientMessageType string

const (
	ClientTypingStart          ClientMessageType = "TYPING_START"
	ClientTypingStop           ClientMessageType = "TYPING_STOP"
	ClientMessageDeliveredBatch ClientMessageType = "MESSAGE_DELIVERED_BATCH"
	ClientMessageSeenBatch     ClientMessageType = "MESSAGE_SEEN_BATCH"
	ClientCaseReadUpTo         ClientMessageType = "CASE_READ_UP_TO"
)

// ServerMessageType enumerates messages a socket may receive
// (spec.md §6).
type ServerMessageType string

const (
	ServerPresenceUpdate ServerMessageType = "PRESENCE_UPDATE"
	ServerTypingUpdate   ServerMessageType = "TYPING_UPDATE"
	ServerMessageCreated ServerMessageType = "MESSAGE_CREATED"
	ServerMessageReceipt ServerMessageType = "MESSAGE_RECEIPT"
	ServerUnreadDelta    ServerMessageType = "UNREAD_DELTA"
	ServerUnreadReset    ServerMessageType = "UNREAD_RESET"
	ServerMessageAck     ServerMessageType = "MESSAGE_ACK"
	ServerInvalidCursor  ServerMessageType = "INVALID_CURSOR"
)

// Auth is the identity a socket authenticated with at upgrade time.
// Token verification itself is an external collaborator's concern
// (spec.md §1); the gateway only carries the resolved identity.
type Auth struct {
	UserID   string
	TenantID string
}

// Socket is one connected client, per spec.md §4.12's per-process data
// shape.
type Socket struct {
	ID            string
	CaseID        string
	Auth          Auth
	LastTypingAt  time.Time
}

// ClientEnvelope is the JSON shape a socket sends.
type ClientEnvelope struct {
	Type       ClientMessageType `json:"type"`
	MessageIDs []string          `json:"messageIds,omitempty"`
	MessageID  string            `json:"messageId,omitempty"`
}

// ServerEnvelope is the JSON shape delivered to a socket.
type ServerEnvelope struct {
	Type    ServerMessageType `json:"type"`
	Payload any               `json:"payload"`
}

// BusEnvelope is the JSON shape published on ws:case:<caseId>
// (spec.md §4.12). InstanceID lets every instance drop its own
// envelopes, since it already delivered locally.
type BusEnvelope struct {
	InstanceID string  `json:"instanceId"`
	Kind       BusKind `json:"kind"`
	CaseID     string  `json:"caseId"`
	Payload    any     `json:"payload"`
}

// PresencePayload backs BusKindPresence / ServerPresenceUpdate.
type PresencePayload struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// TypingPayload backs BusKindTyping / ServerTypingUpdate.
type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// MessageCreatedPayload backs BusKindMessageCreated / ServerMessageCreated.
type MessageCreatedPayload struct {
	Message Message `json:"message"`
}

// MessageAckPayload backs ServerMessageAck, delivered only to the
// author's own sockets.
type MessageAckPayload struct {
	ClientMutationID string `json:"clientMutationId"`
	MessageID        string `json:"messageId"`
}

// ReceiptKind distinguishes delivered from seen receipts.
type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "DELIVERED"
	ReceiptSeen      ReceiptKind = "SEEN"
)

// MessageReceiptPayload backs BusKindMessageReceipt / ServerMessageReceipt.
type MessageReceiptPayload struct {
	MessageID string      `json:"messageId"`
	UserID    string      `json:"userId"`
	Kind      ReceiptKind `json:"kind"`
	At        time.Time   `json:"at"`
}

// UnreadDeltaPayload backs BusKindUnreadDelta / ServerUnreadDelta.
// AuthorID never reaches the client as a meaningful field for them;
// it travels on the bus so every instance can apply the "except the
// author's sockets" fan-out rule locally (spec.md §4.12).
type UnreadDeltaPayload struct {
	CaseID   string `json:"caseId"`
	Delta    int    `json:"delta"`
	AuthorID string `json:"authorId"`
}

// UnreadResetPayload backs ServerUnreadReset, delivered only to the
// originating socket.
type UnreadResetPayload struct {
	CaseID string `json:"caseId"`
}
