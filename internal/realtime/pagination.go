package realtime

import (
	"context"
	"fmt"

	"github.com/caseledger/casecore/pkg/constant"
	"github.com/caseledger/casecore/pkg/cursor"
)

// Cursor aliases pkg/cursor.Cursor so repository implementations don't
// need to import the gateway's transport package.
type Cursor = cursor.Cursor

// Page is the result of a history fetch (spec.md §4.12's pagination
// contract: messages ascending, nextCursor, hasMore).
type Page struct {
	Messages   []Message
	NextCursor string
	HasMore    bool
}

// PageHistory implements the cursor-based, deterministic pagination
// contract for a case's message history. cursorStr is the opaque
// client-provided cursor, empty for the first page.
func (g *Gateway) PageHistory(ctx context.Context, tenantID, caseID, cursorStr string, limit int) (*Page, error) {
	limit = cursor.Clamp(limit)

	var c *Cursor
	if cursorStr != "" {
		decoded, err := cursor.Decode(cursorStr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", constant.ErrInvalidCursor, err) //nolint:errorlint
		}
		c = &decoded
	}

	fetched, err := g.messages.Page(ctx, tenantID, caseID, c, limit)
	if err != nil {
		return nil, err
	}

	hasMore := len(fetched) > limit
	if hasMore {
		fetched = fetched[:limit]
	}

	// fetched is descending by (createdAt, id); render ascending.
	ascending := make([]Message, len(fetched))
	for i, m := range fetched {
		ascending[len(fetched)-1-i] = m
	}

	var next string
	if hasMore {
		last := fetched[len(fetched)-1]
		next, err = cursor.Encode(Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return nil, err
		}
	}

	return &Page{Messages: ascending, NextCursor: next, HasMore: hasMore}, nil
}

// UnreadCount implements spec.md §4.12's unread count rule.
func (g *Gateway) UnreadCount(ctx context.Context, tenantID, caseID, userID string) (int, error) {
	pos, err := g.readPositions.Get(ctx, tenantID, caseID, userID)
	if err != nil {
		return 0, err
	}

	if pos == nil || pos.LastReadMessageID == "" {
		return g.messages.CountUnread(ctx, tenantID, caseID, userID, nil)
	}

	markedAt, err := g.messages.GetCreatedAt(ctx, tenantID, pos.LastReadMessageID)
	if err != nil {
		return 0, err
	}

	return g.messages.CountUnread(ctx, tenantID, caseID, userID, &markedAt)
}
