package realtime

import (
	"context"
	"time"
)

// Message is a chat message attached to a case (spec.md §3: Message /
// MessageReceipt / CaseReadPosition).
type Message struct {
	ID                string
	TenantID          string
	CaseID            string
	AuthorID          string
	Body              string
	ClientMutationID  string
	CreatedAt         time.Time
}

// MessageReceipt records a delivered-or-seen acknowledgement for one
// message by one user.
type MessageReceipt struct {
	TenantID    string
	MessageID   string
	UserID      string
	DeliveredAt *time.Time
	SeenAt      *time.Time
}

// CaseReadPosition is the per-user read marker backing unread counts
// and CASE_READ_UP_TO (SPEC_FULL.md §4.13.2).
type CaseReadPosition struct {
	TenantID          string
	CaseID            string
	UserID            string
	LastReadMessageID string
	UpdatedAt         time.Time
}

// MessageRepository persists the chat projection. Grounded on the
// teacher's Mongo-backed audit log (components/audit) for an
// append-heavy, schema-light store.
type MessageRepository interface {
	Insert(ctx context.Context, m Message) error
	// Page returns up to limit+1 messages in the case ordered
	// descending by (createdAt, id), starting strictly after cursor
	// when cursor is non-nil (spec.md §4.12 pagination contract).
	Page(ctx context.Context, tenantID, caseID string, cursor *Cursor, limit int) ([]Message, error)
	// CountUnread implements spec.md §4.12's unread count rule.
	CountUnread(ctx context.Context, tenantID, caseID, userID string, afterCreatedAt *time.Time) (int, error)
	GetCreatedAt(ctx context.Context, tenantID, messageID string) (time.Time, error)
}

// ReceiptRepository persists delivery/seen receipts.
type ReceiptRepository interface {
	UpsertDelivered(ctx context.Context, tenantID, messageID, userID string, at time.Time) error
	UpsertSeen(ctx context.Context, tenantID, messageID, userID string, at time.Time) error
}

// ReadPositionRepository persists CaseReadPosition rows, updated
// monotonically (SPEC_FULL.md §4.13.2: a read position never moves
// backwards).
type ReadPositionRepository interface {
	Get(ctx context.Context, tenantID, caseID, userID string) (*CaseReadPosition, error)
	// AdvanceTo moves the read position to messageID/createdAt if and
	// only if it is newer than the stored position. Returns true when
	// the position actually advanced.
	AdvanceTo(ctx context.Context, tenantID, caseID, userID, messageID string, createdAt time.Time) (bool, error)
}
