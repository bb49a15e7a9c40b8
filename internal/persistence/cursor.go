// Package persistence contains helpers shared by repository implementations.
package persistence

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/fuelsync/internal/domain"
)

// ErrInvalidCursor is returned for page tokens that were not produced by EncodeCursor.
var ErrInvalidCursor = errors.New("invalid cursor")

const cursorVersion = 1

// cursorToken is the JSON body of a page token. StartedAt is kept as Unix nanoseconds so the
// keyset comparison sees exactly the stored instant.
type cursorToken struct {
	Version   int    `json:"v"`
	StartedAt int64  `json:"t"`
	ID        string `json:"id"`
}

// EncodeCursor serialises the keyset position to an opaque URL-safe token.
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	body, err := json.Marshal(cursorToken{Version: cursorVersion, StartedAt: c.StartedAt.UnixNano(), ID: c.ID})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(body)
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token yields a nil cursor.
func DecodeCursor(token string) (*domain.Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	body, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var tok cursorToken
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if tok.Version != cursorVersion || tok.ID == "" {
		return nil, fmt.Errorf("%w: unsupported token", ErrInvalidCursor)
	}
	return &domain.Cursor{StartedAt: time.Unix(0, tok.StartedAt).UTC(), ID: tok.ID}, nil
}
