// Package cursor implements the opaque pagination cursor used by the
// real-time gateway's message history endpoint (spec.md §4.12).
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Cursor identifies a position in the descending (createdAt, id) message
// order.
type Cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// Encode renders c as an opaque base64-url string.
func Encode(c Cursor) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(b), nil
}

// Decode parses an opaque cursor string produced by Encode. Any malformed
// input is reported as a single, uniform error so callers can map it to
// INVALID_CURSOR without inspecting the underlying cause.
func Decode(s string) (Cursor, error) {
	var c Cursor

	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("decode cursor: %w", err)
	}

	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("unmarshal cursor: %w", err)
	}

	if c.ID == "" || c.CreatedAt.IsZero() {
		return c, fmt.Errorf("cursor missing required fields")
	}

	return c, nil
}

// Clamp enforces the [1,100] limit contract, defaulting to 30.
func Clamp(limit int) int {
	switch {
	case limit <= 0:
		return 30
	case limit > 100:
		return 100
	default:
		return limit
	}
}
